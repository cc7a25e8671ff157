package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/mail-export/fetch"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrBadPageToken    = errors.New("invalid page token")
)

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
}

// Provider serves a mailbox over IMAP as a fetch.Provider. Labels are
// mailbox names, message identifiers are UIDs, newest first. The page token
// is the offset into the UID list taken when the mailbox was first selected.
type Provider struct {
	opts   Options
	logger *slog.Logger

	client   *imapclient.Client
	selected string
	uids     []imapv2.UID
}

func NewProvider(opts Options, logger *slog.Logger) (*Provider, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{opts: opts, logger: logger}, nil
}

func (p *Provider) ListMessageIDs(ctx context.Context, label string, pageSize int, pageToken string) (fetch.Page, error) {
	offset := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 0 {
			return fetch.Page{}, fmt.Errorf("%w: %q", ErrBadPageToken, pageToken)
		}
		offset = n
	}

	if err := p.selectMailbox(ctx, label); err != nil {
		return fetch.Page{}, err
	}

	return pageUIDs(p.uids, offset, pageSize), nil
}

func (p *Provider) GetRawMessage(ctx context.Context, id string) ([]byte, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a uid", ErrMessageNotFound, id)
	}
	client, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}

	section := &imapv2.FetchItemBodySection{Peek: true}
	cmd := client.Fetch(imapv2.UIDSetNum(imapv2.UID(n)), &imapv2.FetchOptions{
		UID:         true,
		BodySection: []*imapv2.FetchItemBodySection{section},
	})
	defer cmd.Close()

	msg := cmd.Next()
	if msg == nil {
		if err := cmd.Close(); err != nil {
			return nil, fmt.Errorf("fetch uid %s: %w", id, err)
		}
		return nil, fmt.Errorf("%w: uid %s", ErrMessageNotFound, id)
	}
	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("fetch uid %s: %w", id, err)
	}
	raw := buf.FindBodySection(section)
	if raw == nil {
		return nil, fmt.Errorf("%w: uid %s has no body", ErrMessageNotFound, id)
	}
	return raw, nil
}

func (p *Provider) Labels(ctx context.Context) ([]fetch.Label, error) {
	client, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}
	mailboxes, err := client.List("", "*", nil).Collect()
	if err != nil {
		return nil, fmt.Errorf("list mailboxes: %w", err)
	}
	labels := make([]fetch.Label, 0, len(mailboxes))
	for _, mb := range mailboxes {
		labels = append(labels, fetch.Label{ID: mb.Mailbox, Name: mb.Mailbox})
	}
	return labels, nil
}

// Close logs out and drops the connection.
func (p *Provider) Close() error {
	if p.client == nil {
		return nil
	}
	if err := p.client.Logout().Wait(); err != nil {
		p.logger.Warn("imap logout failed", "err", err)
	}
	err := p.client.Close()
	p.client = nil
	return err
}

func (p *Provider) selectMailbox(ctx context.Context, mailbox string) error {
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if p.selected == mailbox {
		return nil
	}

	client, err := p.connect(ctx)
	if err != nil {
		return err
	}
	data, err := client.Select(mailbox, &imapv2.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return fmt.Errorf("select mailbox %s: %w", mailbox, err)
	}

	search, err := client.UIDSearch(&imapv2.SearchCriteria{}, nil).Wait()
	if err != nil {
		return fmt.Errorf("search mailbox %s: %w", mailbox, err)
	}
	uids := search.AllUIDs()
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })

	p.selected = mailbox
	p.uids = uids
	p.logger.Debug("imap mailbox selected", "mailbox", mailbox, "messages", data.NumMessages, "uids", len(uids))
	return nil
}

func (p *Provider) connect(ctx context.Context) (*imapclient.Client, error) {
	if p.client != nil {
		return p.client, nil
	}

	address := net.JoinHostPort(p.opts.Host, strconv.Itoa(p.opts.Port))
	options := &imapclient.Options{}

	if p.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         p.opts.Host,
			InsecureSkipVerify: p.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if p.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(p.opts.Username, p.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("imap login failed: %w", err)
	}

	context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	p.logger.Debug("imap connection established", "address", address, "user", p.opts.Username, "tls", p.opts.UseTLS)
	p.client = client
	return client, nil
}

// pageUIDs returns at most size identifiers starting at offset, with a next
// token when more remain.
func pageUIDs(uids []imapv2.UID, offset, size int) fetch.Page {
	if offset >= len(uids) || size <= 0 {
		return fetch.Page{}
	}
	end := min(offset+size, len(uids))

	page := fetch.Page{IDs: make([]string, 0, end-offset)}
	for _, uid := range uids[offset:end] {
		page.IDs = append(page.IDs, strconv.FormatUint(uint64(uid), 10))
	}
	if end < len(uids) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page
}
