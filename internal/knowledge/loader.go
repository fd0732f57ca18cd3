package knowledge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"docchatgo/internal/service/ai"

	"github.com/PuerkitoBio/goquery"
	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

const (
	fetchTimeout   = 15 * time.Second
	maxFetchedBody = 2 << 20
)

var (
	ErrUnsupportedFile = errors.New("unsupported file type")
	ErrNoText          = errors.New("document has no readable text")
	ErrInvalidURL      = errors.New("invalid url")
	ErrBlockedAddress  = errors.New("address is not publicly routable")
)

var allowedExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".csv":  true,
	".html": true,
	".pdf":  true,
}

// Extractor turns uploaded files and web pages into plain text.
type Extractor struct {
	dir    string
	loader *file.FileLoader
	client *http.Client
	logger *zap.Logger
}

// NewExtractor stores uploads under dir while they are parsed.
func NewExtractor(ctx context.Context, dir string, logger *zap.Logger) (*Extractor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	extParser, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		Parsers: map[string]parser.Parser{
			".pdf": pdfParser{},
		},
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		return nil, fmt.Errorf("init parser: %w", err)
	}
	loader, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      extParser,
	})
	if err != nil {
		return nil, fmt.Errorf("init file loader: %w", err)
	}
	return &Extractor{
		dir:    dir,
		loader: loader,
		client: newFetchClient(publicOnly),
		logger: logger.Named("extract"),
	}, nil
}

// SupportedFile reports whether name has an extension the extractor can read.
func SupportedFile(name string) bool {
	return allowedExtensions[strings.ToLower(filepath.Ext(name))]
}

// FileText saves data under scope, loads it through the parser chain and removes the copy.
func (e *Extractor) FileText(ctx context.Context, scope, name string, data []byte) (string, error) {
	name = filepath.Base(name)
	if !SupportedFile(name) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFile, filepath.Ext(name))
	}
	destDir, destPath := e.uniquePath(scope, name)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	if err := os.WriteFile(destPath, data, 0o600); err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	defer func() {
		if err := os.Remove(destPath); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("remove upload copy failed", zap.String("path", destPath), zap.Error(err))
		}
		// prune empty directories
		_ = os.Remove(destDir)
	}()

	docs, err := e.loader.Load(ctx, document.Source{URI: destPath})
	if err != nil {
		return "", fmt.Errorf("load %s: %w", name, err)
	}
	if strings.EqualFold(filepath.Ext(name), ".html") {
		var raw strings.Builder
		for _, d := range docs {
			raw.WriteString(d.Content)
		}
		return htmlText(strings.NewReader(raw.String()))
	}
	return joinText(docs)
}

// URLText downloads an http(s) page and returns its visible text.
func (e *Extractor) URLText(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidURL, parsed.Scheme)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "docchatgo/1.0")
	resp, err := e.client.Do(req)
	if errors.Is(err, ErrBlockedAddress) {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidURL, parsed.Host, ErrBlockedAddress)
	}
	if err != nil {
		return "", &ai.ExternalError{Op: "fetch url", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &ai.ExternalError{Op: "fetch url", Err: errors.New(resp.Status)}
	}
	body := io.LimitReader(resp.Body, maxFetchedBody)
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		data, err := io.ReadAll(body)
		if err != nil {
			return "", err
		}
		return nonEmpty(string(data))
	}
	return htmlText(body)
}

// newFetchClient dials through control, which sees every resolved address,
// including those reached by redirects.
func newFetchClient(control func(network, address string, c syscall.RawConn) error) *http.Client {
	dialer := &net.Dialer{Timeout: fetchTimeout, Control: control}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	return &http.Client{Timeout: fetchTimeout, Transport: transport}
}

// publicOnly refuses loopback, private, link-local and other non-public addresses.
func publicOnly(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	if !isPublic(ip.Unmap()) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, ip)
	}
	return nil
}

var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

func isPublic(ip netip.Addr) bool {
	return ip.IsGlobalUnicast() &&
		!ip.IsPrivate() &&
		!sharedAddressSpace.Contains(ip)
}

// uniquePath picks "<name>", then "<base> (n)<ext>" under dir/scope.
func (e *Extractor) uniquePath(scope, filename string) (string, string) {
	destDir := filepath.Join(e.dir, filepath.Base(scope))
	destPath := filepath.Join(destDir, filename)
	if _, err := os.Stat(destPath); os.IsNotExist(err) {
		return destDir, destPath
	}
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	for idx := 1; idx <= 1000; idx++ {
		candidate := filepath.Join(destDir, fmt.Sprintf("%s (%d)%s", base, idx, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return destDir, candidate
		}
	}
	return destDir, filepath.Join(destDir, fmt.Sprintf("%s-%d%s", base, time.Now().UnixNano(), ext))
}

func htmlText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, nav, footer, header, iframe, svg").Remove()
	root := doc.Find("main, article").First()
	if root.Length() == 0 {
		root = doc.Find("body")
	}
	var parts []string
	root.Find("h1, h2, h3, h4, p, li, pre, td, blockquote").Each(func(_ int, s *goquery.Selection) {
		if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
			parts = append(parts, text)
		}
	})
	if len(parts) == 0 {
		parts = append(parts, strings.Join(strings.Fields(root.Text()), " "))
	}
	return nonEmpty(strings.Join(parts, "\n"))
}

func joinText(docs []*schema.Document) (string, error) {
	var b strings.Builder
	for _, d := range docs {
		content := strings.TrimSpace(d.Content)
		if content == "" {
			continue
		}
		b.WriteString(content)
		b.WriteString("\n\n")
	}
	return nonEmpty(b.String())
}

func nonEmpty(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

// pdfParser extracts the plain text of every page.
type pdfParser struct{}

func (pdfParser) Parse(ctx context.Context, reader io.Reader, opts ...parser.Option) ([]*schema.Document, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	var b strings.Builder
	for pageIndex := 1; pageIndex <= r.NumPage(); pageIndex++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(content)
		b.WriteString("\n")
	}
	common := parser.GetCommonOptions(&parser.Options{}, opts...)
	return []*schema.Document{{
		Content:  b.String(),
		MetaData: common.ExtraMeta,
	}}, nil
}
