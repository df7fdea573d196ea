package control

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/trungvv/ripcord/internal/core/domain"
	"github.com/trungvv/ripcord/internal/rotation"
)

// proxyRevalidator probes a proxy endpoint with a plain TCP dial. A proxy
// that accepts connections is considered usable again; protocol-level
// failures will be caught by the classifier on the next real use.
func proxyRevalidator() rotation.Revalidator {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	return func(ctx context.Context, res *domain.Resource) error {
		u, err := url.Parse(res.Value)
		if err != nil {
			return fmt.Errorf("invalid proxy url %q: %w", res.Value, err)
		}
		host := u.Host
		if host == "" {
			host = res.Value
		}
		conn, err := dialer.DialContext(ctx, "tcp", host)
		if err != nil {
			return fmt.Errorf("proxy unreachable: %w", err)
		}
		return conn.Close()
	}
}

// sessionRevalidator checks that the cookie file behind a session still
// exists and is non-empty. Actual credential freshness is only observable
// through use.
func sessionRevalidator() rotation.Revalidator {
	return func(ctx context.Context, res *domain.Resource) error {
		info, err := os.Stat(res.Value)
		if err != nil {
			return fmt.Errorf("cookie file: %w", err)
		}
		if info.Size() == 0 {
			return fmt.Errorf("cookie file %s is empty", res.Value)
		}
		return nil
	}
}
