package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/maildir-archiver/mbox"
	"github.com/dhcgn/maildir-archiver/model"
)

var ErrClosed = errors.New("imap sink is closed")

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	TargetFolder       string
}

// Sink appends retired messages to an IMAP folder, marked as seen and dated
// with the message's own date.
type Sink struct {
	opts    Options
	client  *imapclient.Client
	cleanup func() error
	logger  *slog.Logger
}

// NewSink connects, logs in and makes sure the target folder exists.
func NewSink(ctx context.Context, opts Options, logger *slog.Logger) (*Sink, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	s := &Sink{opts: opts, logger: logger}
	client, cleanup, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	s.client = client
	s.cleanup = cleanup
	return s, nil
}

func (s *Sink) Write(_ context.Context, d model.Descriptor, raw []byte) error {
	if s.client == nil {
		return ErrClosed
	}
	// APPEND takes a bare RFC 5322 message.
	if err := s.appendMessage(d, mbox.StripFromLine(raw)); err != nil {
		return fmt.Errorf("imap append %s: %w", d.ID, err)
	}
	if s.logger != nil {
		s.logger.Debug("appended message", "messageID", d.ID, "target", s.targetFolder())
	}
	return nil
}

// Close logs out and reports a failed logout. It is safe to call more than once.
func (s *Sink) Close() error {
	var err error
	if s.cleanup != nil {
		err = s.cleanup()
		s.cleanup = nil
	}
	s.client = nil
	return err
}

func (s *Sink) String() string {
	return fmt.Sprintf("imap://%s@%s/%s", s.opts.Username, net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port)), s.targetFolder())
}

func (s *Sink) dial(ctx context.Context) (*imapclient.Client, func() error, error) {
	address := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	options := &imapclient.Options{}

	if s.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         s.opts.Host,
			InsecureSkipVerify: s.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if s.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(s.opts.Username, s.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("imap login failed: %w", err)
	}

	if err := s.ensureMailbox(client); err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	if s.logger != nil {
		s.logger.Debug("imap connection established", "address", address, "user", s.opts.Username, "target", s.targetFolder(), "tls", s.opts.UseTLS)
	}

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	cleanup := func() error {
		stopClose()
		var logoutErr error
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil {
				logoutErr = fmt.Errorf("imap logout: %w", err)
			}
		}
		if err := client.Close(); err != nil && s.logger != nil {
			s.logger.Debug("imap connection closed", "err", err)
		}
		return logoutErr
	}

	return client, cleanup, nil
}

func (s *Sink) appendMessage(d model.Descriptor, raw []byte) error {
	opts := &imapv2.AppendOptions{Flags: []imapv2.Flag{imapv2.FlagSeen}}
	if d.ResolvedAt != 0 {
		opts.Time = d.Time()
	}

	cmd := s.client.Append(s.targetFolder(), int64(len(raw)), opts)

	remaining := raw
	for len(remaining) > 0 {
		n, err := cmd.Write(remaining)
		if err != nil {
			_ = cmd.Close()
			return fmt.Errorf("append write: %w", err)
		}
		if n == 0 {
			_ = cmd.Close()
			return fmt.Errorf("append write: wrote 0 bytes")
		}
		remaining = remaining[n:]
	}

	if err := cmd.Close(); err != nil {
		return fmt.Errorf("append close: %w", err)
	}

	if _, err := cmd.Wait(); err != nil {
		return fmt.Errorf("append wait: %w", err)
	}

	return nil
}

func (s *Sink) targetFolder() string {
	if s.opts.TargetFolder == "" {
		return "Archive"
	}
	return s.opts.TargetFolder
}

func (s *Sink) ensureMailbox(client *imapclient.Client) error {
	target := s.targetFolder()
	cmd := client.Create(target, nil)
	if err := cmd.Wait(); err != nil {
		var respErr *imapv2.Error
		if errors.As(err, &respErr) {
			if respErr.Code == imapv2.ResponseCodeAlreadyExists {
				if s.logger != nil {
					s.logger.Debug("imap mailbox already exists", "mailbox", target)
				}
				return nil
			}
		}
		return fmt.Errorf("ensure mailbox %s: %w", target, err)
	}

	if s.logger != nil {
		s.logger.Info("imap mailbox created", "mailbox", target)
	}

	return nil
}
