package archive

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/inful/mdfp"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/washer/internal/model"
)

// fieldArchived records when the document was last written. It is not part of
// the fingerprint so rewriting identical content does not change it.
const fieldArchived = "archived"

const delimiter = "---\n"

var errNoFrontMatter = errors.New("document has no front matter")

// Document is an archived item.
type Document struct {
	Fields map[string]any
	Body   string
}

// NewDocument lays item out as front matter fields and a Markdown body.
func NewDocument(item model.Item) Document {
	fields := map[string]any{
		"title": item.Title,
		"url":   item.URL,
		"date":  item.Created.UTC().Format(time.RFC3339),
	}
	if item.Author != "" {
		fields["author"] = item.Author
	}
	if len(item.Tags) > 0 {
		fields["tags"] = append([]string(nil), item.Tags...)
	}
	if item.Image != "" {
		fields["image"] = item.Image
	}
	if item.Summary != "" {
		fields["summary"] = item.Summary
	}
	if s := item.Source; s != nil && (s.URL != "" || s.Title != "") {
		fields["source"] = map[string]any{"title": s.Title, "url": s.URL}
	}
	if m := item.Media; m != nil && m.File != "" {
		media := map[string]any{"file": m.File}
		if m.Type != "" {
			media["type"] = m.Type
		}
		if m.Size > 0 {
			media["size"] = m.Size
		}
		if m.Duration > 0 {
			media["duration"] = m.Duration
		}
		fields["media"] = media
	}

	body := item.Text
	if body == "" {
		body = item.Summary
	}
	if body != "" && !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	return Document{Fields: fields, Body: body}
}

// Fingerprint hashes the front matter, without bookkeeping fields, and the body.
func (d Document) Fingerprint() (string, error) {
	hashed := make(map[string]any, len(d.Fields))
	for k, v := range d.Fields {
		if k == mdfp.FingerprintField || k == fieldArchived {
			continue
		}
		hashed[k] = v
	}
	fm, err := marshalFields(hashed)
	if err != nil {
		return "", err
	}
	return mdfp.CalculateFingerprintFromParts(strings.TrimSuffix(string(fm), "\n"), d.Body), nil
}

// Render serializes the document with --- delimited front matter.
func (d Document) Render() (string, error) {
	fm, err := marshalFields(d.Fields)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString(delimiter)
	sb.Write(fm)
	sb.WriteString(delimiter)
	sb.WriteString(d.Body)
	return sb.String(), nil
}

// ParseDocument reads a rendered document back.
func ParseDocument(content string) (Document, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	rest, ok := strings.CutPrefix(content, delimiter)
	if !ok {
		return Document{}, errNoFrontMatter
	}
	var fm, body string
	if after, ok := strings.CutPrefix(rest, delimiter); ok {
		body = after
	} else {
		i := strings.Index(rest, "\n"+delimiter)
		if i < 0 {
			return Document{}, errNoFrontMatter
		}
		fm, body = rest[:i+1], rest[i+1+len(delimiter):]
	}
	fields := map[string]any{}
	if err := yaml.Unmarshal([]byte(fm), &fields); err != nil {
		return Document{}, fmt.Errorf("parse front matter: %w", err)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return Document{Fields: fields, Body: body}, nil
}

// marshalFields encodes fields with keys sorted at every level so the output
// is stable across runs.
func marshalFields(fields map[string]any) ([]byte, error) {
	if len(fields) == 0 {
		return []byte{}, nil
	}
	node, err := mappingNode(fields)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		_ = enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func mappingNode(m map[string]any) (*yaml.Node, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range keys {
		v, err := valueNode(m[k])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}, v)
	}
	return n, nil
}

func valueNode(v any) (*yaml.Node, error) {
	switch vv := v.(type) {
	case nil:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
	case string:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: vv}, nil
	case bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(vv)}, nil
	case int:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(vv)}, nil
	case int64:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(vv, 10)}, nil
	case float64:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: strconv.FormatFloat(vv, 'f', -1, 64)}, nil
	case map[string]any:
		return mappingNode(vv)
	case []string:
		seq := &yaml.Node{Kind: yaml.SequenceNode}
		for _, s := range vv {
			seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s})
		}
		return seq, nil
	case []any:
		seq := &yaml.Node{Kind: yaml.SequenceNode}
		for _, e := range vv {
			n, err := valueNode(e)
			if err != nil {
				return nil, err
			}
			seq.Content = append(seq.Content, n)
		}
		return seq, nil
	}
	return nil, fmt.Errorf("unsupported value of type %T", v)
}

var slugFold = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slug turns a title into a lowercase ASCII file name stem. Diacritics are
// folded and everything else that is not a letter or digit becomes a dash.
func Slug(title string, limit int) string {
	folded, _, err := transform.String(slugFold, title)
	if err != nil {
		folded = title
	}
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			sb.WriteRune(r)
			dash = false
		case !dash && sb.Len() > 0:
			sb.WriteByte('-')
			dash = true
		}
		if limit > 0 && sb.Len() >= limit {
			break
		}
	}
	return strings.Trim(sb.String(), "-")
}

// FileName places a document under its creation year. The URL hash keeps
// items with equal titles apart.
func FileName(item model.Item) string {
	sum := sha256.Sum256([]byte(item.URL))
	hash := hex.EncodeToString(sum[:])[:8]
	name := hash
	if slug := Slug(item.Title, 60); slug != "" {
		name = slug + "-" + hash
	}
	return fmt.Sprintf("%04d/%s.md", item.Created.UTC().Year(), name)
}
