package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Server validates Authorization headers presented by a client, and
// generates the WWW-Authenticate challenge. It exists primarily to make
// Client end-to-end-testable against a realistic challenge/response cycle.
type Server struct {
	user  string
	pass  string
	realm string
	nonce string
}

// NewServer allocates a Server with a fresh random nonce.
func NewServer(user, pass, realm string) *Server {
	nonceBytes := make([]byte, 16)
	_, _ = rand.Read(nonceBytes)

	return &Server{
		user:  user,
		pass:  pass,
		realm: realm,
		nonce: hex.EncodeToString(nonceBytes),
	}
}

// Challenge returns the WWW-Authenticate header value offering Digest
// authentication.
func (s *Server) Challenge() string {
	return fmt.Sprintf(`Digest realm="%s", nonce="%s"`, s.realm, s.nonce)
}

// Validate checks an Authorization header value produced by Client against
// this server's stored credentials for the given method/uri.
func (s *Server) Validate(authorization, method, uri string) error {
	wantResponse := func() string {
		ha1 := md5Hex(s.user + ":" + s.realm + ":" + s.pass)
		ha2 := md5Hex(method + ":" + uri)
		return md5Hex(ha1 + ":" + s.nonce + ":" + ha2)
	}()

	got, ok := param(authorization, "response")
	if !ok {
		return fmt.Errorf("auth: response not provided")
	}
	if got != wantResponse {
		return fmt.Errorf("auth: wrong digest response")
	}
	return nil
}
