package rtspengine

import (
	"fmt"
	"strings"
	"time"

	"github.com/nrtsp/rtspengine/pkg/liberrors"
)

// Interface selects how a Client drives its EventLoop (§6).
type Interface int

const (
	// InterfaceEventDriven runs the EventLoop cooperatively; the caller
	// must pump it (e.g. via Client.RunCycle or EventLoop.Run).
	InterfaceEventDriven Interface = iota
	// InterfaceBlocking is accepted by Validate, but NewClient and
	// Presentation do not act on it: operations still return at once and
	// complete through callbacks driven by the EventLoop. No synchronous
	// send-and-wait path exists.
	InterfaceBlocking
)

// Config holds the options accepted by NewClient. Recognised option
// names match irrespective of case, separators, and a leading dash (the
// same normalisation HeaderStore uses for header names); unknown options
// are ignored.
type Config struct {
	Interface            Interface
	Timeout              time.Duration
	BufferSize           int
	MaxActiveConnections int
	Pipelining           bool

	ErrorCallback      func(error)
	WarningCallback    func(string)
	UseErrorCallback   bool
	UseWarningCallback bool
}

// DefaultConfig returns the documented defaults: Timeout 60s, BufferSize
// 4096, MaxActiveConnections 12.
func DefaultConfig() Config {
	return Config{
		Interface:            InterfaceEventDriven,
		Timeout:              60 * time.Second,
		BufferSize:           4096,
		MaxActiveConnections: 12,
	}
}

// normalizeOptionName mirrors pkg/base's header-name normalisation: case,
// underscore/dash, and leading-dash insensitive.
func normalizeOptionName(name string) string {
	name = strings.TrimPrefix(name, "-")
	name = strings.ReplaceAll(name, "_", "")
	name = strings.ReplaceAll(name, "-", "")
	return strings.ToLower(name)
}

// ApplyOption sets a single named option on c, following the same
// case/separator/dash-insensitive matching HeaderStore uses. Unknown
// names are silently ignored, as required by §6.
func (c *Config) ApplyOption(name string, value any) {
	switch normalizeOptionName(name) {
	case "interface":
		if v, ok := value.(Interface); ok {
			c.Interface = v
		}
	case "timeout":
		if v, ok := value.(time.Duration); ok {
			c.Timeout = v
		}
	case "buffersize":
		if v, ok := value.(int); ok {
			c.BufferSize = v
		}
	case "maxactiveconnections":
		if v, ok := value.(int); ok {
			c.MaxActiveConnections = v
		}
	case "pipelining":
		if v, ok := value.(bool); ok {
			c.Pipelining = v
		}
	case "errorcallback":
		if v, ok := value.(func(error)); ok {
			c.ErrorCallback = v
		}
	case "warningcallback":
		if v, ok := value.(func(string)); ok {
			c.WarningCallback = v
		}
	case "useerrorcallback":
		if v, ok := value.(bool); ok {
			c.UseErrorCallback = v
		}
	case "usewarningcallback":
		if v, ok := value.(bool); ok {
			c.UseWarningCallback = v
		}
	}
}

// Validate checks the interface kind, returning a configuration error if
// invalid (§7: configuration errors fail construction).
func (c *Config) Validate() error {
	if c.Interface != InterfaceEventDriven && c.Interface != InterfaceBlocking {
		return liberrors.ErrConfigInvalidInterface{Got: fmt.Sprintf("%d", c.Interface)}
	}
	return nil
}
