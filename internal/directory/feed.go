package directory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/sirupsen/logrus"
)

var ErrFeedUnavailable = errors.New("listing feed unavailable")

// Feed downloads one listing file.
type Feed interface {
	Fetch(ctx context.Context, file string) ([]byte, error)
}

type FTPConfig struct {
	Addr     string
	Dir      string
	User     string
	Password string
	Timeout  time.Duration
}

// FTPFeed reads the symbol directory files from the exchange FTP server. Each fetch uses
// its own connection, and the whole exchange (greeting, login, transfer) shares one
// deadline of Timeout.
type FTPFeed struct {
	cfg FTPConfig
	log *logrus.Logger
}

func NewFTPFeed(cfg FTPConfig, log *logrus.Logger) *FTPFeed {
	if cfg.User == "" {
		cfg.User = "anonymous"
		cfg.Password = "anonymous"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &FTPFeed{cfg: cfg, log: log}
}

func (f *FTPFeed) Fetch(ctx context.Context, file string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()
	deadline, _ := ctx.Deadline()

	conn, err := ftp.Dial(f.cfg.Addr, ftp.DialWithDialFunc(deadlineDialer(ctx, deadline)))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", f.cfg.Addr, err)
	}
	defer func() {
		if err := conn.Quit(); err != nil {
			f.log.Debugf("ftp quit: %v", err)
		}
	}()

	if err := conn.Login(f.cfg.User, f.cfg.Password); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if f.cfg.Dir != "" {
		if err := conn.ChangeDir(f.cfg.Dir); err != nil {
			return nil, fmt.Errorf("cwd %s: %w", f.cfg.Dir, err)
		}
	}

	resp, err := conn.Retr(file)
	if err != nil {
		return nil, fmt.Errorf("retr %s: %w", file, err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	f.log.Debugf("fetched %s (%d bytes)", file, len(data))
	return data, nil
}

// deadlineDialer dials both the control and data connections with the same absolute
// deadline, so a server that stops answering cannot block past it.
func deadlineDialer(ctx context.Context, deadline time.Time) func(network, address string) (net.Conn, error) {
	return func(network, address string) (net.Conn, error) {
		var d net.Dialer
		c, err := d.DialContext(ctx, network, address)
		if err != nil {
			return nil, err
		}
		if err := c.SetDeadline(deadline); err != nil {
			c.Close()
			return nil, err
		}
		return c, nil
	}
}
