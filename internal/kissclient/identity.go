package kissclient

import (
	"context"
	"time"
)

// Identity holds keys on the modem. Each call is bounded by timeout
// because the chat loop cannot wait indefinitely on the serial link.
type Identity struct {
	client  *Client
	pub     []byte
	timeout time.Duration
}

// RemoteIdentity fetches the modem's public key once.
func RemoteIdentity(ctx context.Context, c *Client) (*Identity, error) {
	pub, err := c.Identity(ctx)
	if err != nil {
		return nil, err
	}
	return &Identity{client: c, pub: pub, timeout: c.cfg.Timeout}, nil
}

func (i *Identity) PublicKey() []byte {
	return append([]byte(nil), i.pub...)
}

func (i *Identity) Sign(msg []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), i.timeout)
	defer cancel()
	return i.client.Sign(ctx, msg)
}

func (i *Identity) SharedSecret(peer []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), i.timeout)
	defer cancel()
	return i.client.KeyExchange(ctx, peer)
}
