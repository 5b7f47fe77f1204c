package membership

import (
	"context"
	"errors"

	"github.com/gonzalop/ftpd/server"
)

// Chain tries each membership in order. A provider that answers
// ErrLoginFailed passes the attempt on; any other error stops the chain.
type Chain []server.Membership

func (c Chain) Authenticate(ctx context.Context, user, credential string) (*server.Identity, error) {
	for _, m := range c {
		id, err := m.Authenticate(ctx, user, credential)
		if err == nil && id != nil {
			return id, nil
		}
		if err != nil && !errors.Is(err, server.ErrLoginFailed) {
			return nil, err
		}
	}
	return nil, server.ErrLoginFailed
}
