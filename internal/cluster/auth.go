package cluster

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/xdg-go/scram"

	"github.com/arenadb/arenasql/internal/arenaerrors"
)

// ScramIterations is the SCRAM-SHA-256 iteration count.
const ScramIterations = 64_000

// saltLength is the per-session random salt size in bytes.
const saltLength = 32

// Authenticator runs the server side of the SCRAM-SHA-256 exchange
// against the cluster manifest's password source. Rand is overridable so
// tests can use a deterministic source (pkg/prng).
type Authenticator struct {
	Manifest *Manifest
	Rand     io.Reader
}

func (a *Authenticator) rand() io.Reader {
	if a.Rand != nil {
		return a.Rand
	}
	return rand.Reader
}

// lookupCredentials derives fresh stored credentials for a user with a
// random per-session salt; the manifest stores plaintext passwords, so
// the salted form is computed on demand. PostgreSQL clients leave the
// SCRAM n= username empty (the identity rides the startup packet), so the
// caller supplies the fallback.
func (a *Authenticator) lookupCredentials(username string) (scram.StoredCredentials, error) {
	user, ok := a.Manifest.GetUser(username)
	if !ok {
		return scram.StoredCredentials{}, arenaerrors.New(arenaerrors.KindInsufficientPrivilege, "user %q does not exist", username)
	}
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(a.rand(), salt); err != nil {
		return scram.StoredCredentials{}, fmt.Errorf("cluster: salt generation: %w", err)
	}
	client, err := scram.SHA256.NewClient(username, user.Password, "")
	if err != nil {
		return scram.StoredCredentials{}, fmt.Errorf("cluster: scram client: %w", err)
	}
	return client.GetStoredCredentials(scram.KeyFactors{Salt: string(salt), Iters: ScramIterations}), nil
}

// Authenticate drives the AuthenticationSASL -> SASLInitialResponse ->
// AuthenticationSASLContinue -> SASLResponse -> AuthenticationSASLFinal
// message sequence over backend. The mechanism is mandatory: anything but
// SCRAM-SHA-256 is rejected.
func (a *Authenticator) Authenticate(backend *pgproto3.Backend, username string) error {
	backend.Send(&pgproto3.AuthenticationSASL{AuthMechanisms: []string{"SCRAM-SHA-256"}})
	if err := backend.Flush(); err != nil {
		return err
	}

	backend.SetAuthType(pgproto3.AuthTypeSASL)
	msg, err := backend.Receive()
	if err != nil {
		return err
	}
	initial, ok := msg.(*pgproto3.SASLInitialResponse)
	if !ok {
		return fmt.Errorf("cluster: expected SASLInitialResponse, got %T", msg)
	}
	if initial.AuthMechanism != "SCRAM-SHA-256" {
		return fmt.Errorf("cluster: unsupported SASL mechanism %q", initial.AuthMechanism)
	}

	server, err := scram.SHA256.NewServer(func(scramUser string) (scram.StoredCredentials, error) {
		if scramUser == "" {
			scramUser = username
		}
		return a.lookupCredentials(scramUser)
	})
	if err != nil {
		return fmt.Errorf("cluster: scram server: %w", err)
	}
	conv := server.NewConversation()

	serverFirst, err := conv.Step(string(initial.Data))
	if err != nil {
		return fmt.Errorf("cluster: scram client-first: %w", err)
	}
	backend.Send(&pgproto3.AuthenticationSASLContinue{Data: []byte(serverFirst)})
	if err := backend.Flush(); err != nil {
		return err
	}

	backend.SetAuthType(pgproto3.AuthTypeSASLContinue)
	msg, err = backend.Receive()
	if err != nil {
		return err
	}
	response, ok := msg.(*pgproto3.SASLResponse)
	if !ok {
		return fmt.Errorf("cluster: expected SASLResponse, got %T", msg)
	}
	serverFinal, err := conv.Step(string(response.Data))
	if err != nil {
		return fmt.Errorf("cluster: scram verification failed for %q: %w", username, err)
	}
	backend.Send(&pgproto3.AuthenticationSASLFinal{Data: []byte(serverFinal)})
	backend.Send(&pgproto3.AuthenticationOk{})
	return backend.Flush()
}
