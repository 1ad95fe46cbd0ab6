package session

import (
	"context"
	"fmt"
	"strconv"

	"github.com/oranet/oranet/internal/authcrypto"
	"github.com/oranet/oranet/internal/protocol"
	"github.com/oranet/oranet/internal/tnsio"
)

// AuthenticationError wraps a non-zero ORA error code returned during
// either phase of the handshake (§4.5, §7).
type AuthenticationError struct {
	Code    uint16
	Message string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("session: authentication failed: ORA-%05d: %s", e.Code, e.Message)
}

// authenticate drives the two-phase AES/PBKDF2 handshake described in
// §4.5: phase one exchanges the username and collects the server's
// verifier material; phase two derives and sends the encrypted session key
// and password (or the IAM token and RSA signature).
func (c *Conn) authenticate(ctx context.Context, auth protocol.AuthContext) error {
	w := tnsio.NewWriter(256)
	protocol.EncodeAuthPhaseOne(w, auth)
	if err := c.writeData(w.Bytes(), uint16(tnsio.DataFlagEOF)); err != nil {
		return fmt.Errorf("session: sending auth phase one: %w", err)
	}
	if err := c.transition(EventAuthPhaseOneSent); err != nil {
		return err
	}

	msgs, err := c.readMessages(ctx)
	if err != nil {
		return fmt.Errorf("session: reading auth phase one response: %w", err)
	}
	if authErr := firstFatalError(msgs); authErr != nil {
		c.transition(EventAuthFailed)
		return authErr
	}

	params := mergeParams(msgs)

	req, err := buildPhaseTwoRequest(auth, params)
	if err != nil {
		c.transition(EventAuthFailed)
		return err
	}

	w = tnsio.NewWriter(512)
	protocol.EncodeAuthPhaseTwo(w, auth, req)
	if err := c.writeData(w.Bytes(), uint16(tnsio.DataFlagEOF)); err != nil {
		return fmt.Errorf("session: sending auth phase two: %w", err)
	}
	if err := c.transition(EventAuthPhaseTwoSent); err != nil {
		return err
	}

	msgs, err = c.readMessages(ctx)
	if err != nil {
		return fmt.Errorf("session: reading auth phase two response: %w", err)
	}
	if authErr := firstFatalError(msgs); authErr != nil {
		c.transition(EventAuthFailed)
		return authErr
	}

	return c.transition(EventAuthSucceeded)
}

// firstFatalError scans a decoded message burst for a non-zero Error
// message. A zero-code Error message is Oracle's success sentinel, not a
// failure, and is ignored here.
func firstFatalError(msgs []protocol.Message) error {
	for _, m := range msgs {
		if m.Kind == protocol.MsgError && m.Error != nil && !m.Error.IsWarning && m.Error.Code != 0 {
			return &AuthenticationError{Code: m.Error.Code, Message: m.Error.Message}
		}
	}
	return nil
}

func mergeParams(msgs []protocol.Message) map[string]protocol.AuthParam {
	out := make(map[string]protocol.AuthParam)
	for _, m := range msgs {
		if m.Kind == protocol.MsgParameter && m.Parameter != nil {
			for k, v := range m.Parameter.Params {
				out[k] = v
			}
		}
	}
	return out
}

func buildPhaseTwoRequest(auth protocol.AuthContext, params map[string]protocol.AuthParam) (protocol.AuthPhaseTwoRequest, error) {
	req := protocol.AuthPhaseTwoRequest{ModeFlags: auth.ModeFlags}

	if auth.IAMToken != "" {
		sig, err := authcrypto.SignRSASHA256(auth.RSAPEMKey, []byte(auth.IAMToken))
		if err != nil {
			return req, fmt.Errorf("session: signing IAM token: %w", err)
		}
		req.IAMToken = auth.IAMToken
		req.RSASignatureB64 = sig
		return req, nil
	}

	vfr, ok := params[protocol.AuthVfrData]
	if !ok {
		return req, fmt.Errorf("session: server did not return %s", protocol.AuthVfrData)
	}
	keySize, err := authcrypto.VerifierKeySize(len(vfr.Value))
	if err != nil {
		return req, err
	}

	sessKey, ok := params[protocol.AuthSessKey]
	if !ok {
		return req, fmt.Errorf("session: server did not return %s", protocol.AuthSessKey)
	}
	cskSalt, ok := params[protocol.AuthPBKDF2CSKSalt]
	if !ok {
		return req, fmt.Errorf("session: server did not return %s", protocol.AuthPBKDF2CSKSalt)
	}
	vgenParam, ok := params[protocol.AuthPBKDF2VGenCount]
	if !ok {
		return req, fmt.Errorf("session: server did not return %s", protocol.AuthPBKDF2VGenCount)
	}
	vgenCount, err := strconv.Atoi(string(vgenParam.Value))
	if err != nil {
		return req, fmt.Errorf("session: parsing %s: %w", protocol.AuthPBKDF2VGenCount, err)
	}

	material, err := authcrypto.DeriveSessionKey([]byte(auth.Password), cskSalt.Value, vgenCount, sessKey.Value, keySize)
	if err != nil {
		return req, fmt.Errorf("session: deriving session key: %w", err)
	}

	encPassword, err := authcrypto.EncryptPassword(material.SessionKey, []byte(auth.Password))
	if err != nil {
		return req, fmt.Errorf("session: encrypting password: %w", err)
	}
	req.EncryptedSessionKey = material.EncryptedClientHalf
	req.EncryptedPassword = encPassword

	if auth.NewPassword != "" {
		encNew, err := authcrypto.EncryptPassword(material.SessionKey, []byte(auth.NewPassword))
		if err != nil {
			return req, fmt.Errorf("session: encrypting new password: %w", err)
		}
		req.EncryptedNewPassword = encNew
	}
	return req, nil
}
