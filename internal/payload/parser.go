// Package payload converts raw tracker API responses into documents while
// guarding against oversized and degenerate payloads.
//
// Every decode checks the byte limit before a tokenizer is constructed, then
// streams tokens counting nodes so deeply nested or exploding documents are
// rejected with tracker.ErrResponseTooComplex before they are materialized.
package payload

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/steveyegge/bdimport/internal/tracker"
)

// Format identifies the wire format of a payload.
type Format string

const (
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
	FormatHTML Format = "html"
)

// Limits bounds what the parser accepts.
type Limits struct {
	MaxBytes int64 // Largest accepted payload in bytes
	MaxNodes int   // Largest accepted number of nodes (values, keys, elements, attributes)
}

// Parser decodes payloads within Limits. It is stateless and safe for concurrent use.
type Parser struct {
	limits Limits

	// parseHook is called when a tokenizer is about to run. Tests use it to
	// verify oversized payloads are rejected before any parsing happens.
	parseHook func(Format)
}

// New returns a parser enforcing the given limits. Zero limits take the
// tracker defaults.
func New(limits Limits) *Parser {
	if limits.MaxBytes <= 0 {
		limits.MaxBytes = tracker.DefaultMaxResponseBytes
	}
	if limits.MaxNodes <= 0 {
		limits.MaxNodes = tracker.DefaultMaxNodes
	}
	return &Parser{limits: limits}
}

// FromOptions returns a parser configured from tracker transport options.
func FromOptions(opts tracker.Options) *Parser {
	return New(Limits{MaxBytes: opts.MaxResponseBytes, MaxNodes: opts.MaxNodes})
}

// Limits returns the limits in effect.
func (p *Parser) Limits() Limits { return p.limits }

// Document is a generic parsed payload.
type Document struct {
	Format Format
	JSON   any   // Decoded JSON value (numbers as json.Number) when Format is json
	XML    *Node // Root element when Format is xml
	Nodes  int   // Number of nodes counted while parsing
}

// Empty reports whether the document carries no data (e.g., an HTML error page).
func (d *Document) Empty() bool {
	return d == nil || (d.JSON == nil && d.XML == nil)
}

// Node is an XML element.
type Node struct {
	Name     string
	Attrs    map[string]string
	Text     string
	Children []*Node
}

// Child returns the first child element with the given name, or nil.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Parse sniffs the payload format and decodes it into a generic Document.
// HTML pages yield an empty Document and no error, since some tracker error
// responses are served as HTML under an XML content type.
func (p *Parser) Parse(body []byte) (*Document, error) {
	if err := p.checkSize(body); err != nil {
		return nil, err
	}
	switch Sniff(body) {
	case FormatHTML:
		return &Document{Format: FormatHTML}, nil
	case FormatXML:
		root, nodes, err := p.walkXML(body, true)
		if err != nil {
			return nil, err
		}
		if root == nil {
			return &Document{Format: FormatHTML, Nodes: nodes}, nil
		}
		return &Document{Format: FormatXML, XML: root, Nodes: nodes}, nil
	default:
		nodes, err := p.countJSON(body)
		if err != nil {
			return nil, err
		}
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, &tracker.ParseError{Format: string(FormatJSON), Err: err}
		}
		return &Document{Format: FormatJSON, JSON: v, Nodes: nodes}, nil
	}
}

// DecodeJSON decodes a JSON payload into v.
func (p *Parser) DecodeJSON(body []byte, v any) error {
	if err := p.checkSize(body); err != nil {
		return err
	}
	if _, err := p.countJSON(body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &tracker.ParseError{Format: string(FormatJSON), Err: err}
	}
	return nil
}

// DecodeXML decodes an XML payload into v. It returns ok=false and no error
// when the body is an HTML page; v is left untouched in that case.
func (p *Parser) DecodeXML(body []byte, v any) (bool, error) {
	if err := p.checkSize(body); err != nil {
		return false, err
	}
	if Sniff(body) == FormatHTML {
		return false, nil
	}
	root, _, err := p.walkXML(body, false)
	if err != nil {
		return false, err
	}
	if root == nil {
		return false, nil
	}
	if err := xml.Unmarshal(body, v); err != nil {
		return false, &tracker.ParseError{Format: string(FormatXML), Err: err}
	}
	return true, nil
}

func (p *Parser) checkSize(body []byte) error {
	if int64(len(body)) > p.limits.MaxBytes {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", tracker.ErrResponseTooLarge, len(body), p.limits.MaxBytes)
	}
	return nil
}

func (p *Parser) tooComplex() error {
	return fmt.Errorf("%w: more than %d nodes", tracker.ErrResponseTooComplex, p.limits.MaxNodes)
}

// countJSON streams the payload counting every value and object key,
// stopping as soon as the limit is crossed.
func (p *Parser) countJSON(body []byte) (int, error) {
	if p.parseHook != nil {
		p.parseHook(FormatJSON)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	nodes := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nodes, &tracker.ParseError{Format: string(FormatJSON), Err: err}
		}
		if d, ok := tok.(json.Delim); ok && (d == '}' || d == ']') {
			continue
		}
		nodes++
		if nodes > p.limits.MaxNodes {
			return nodes, p.tooComplex()
		}
	}
	if nodes == 0 {
		return 0, &tracker.ParseError{Format: string(FormatJSON), Err: io.ErrUnexpectedEOF}
	}
	return nodes, nil
}

// walkXML streams the payload counting elements and attributes. When build
// is set it also returns the element tree. A nil root with no error means the
// document is an HTML page.
func (p *Parser) walkXML(body []byte, build bool) (*Node, int, error) {
	if p.parseHook != nil {
		p.parseHook(FormatXML)
	}
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.Entity = xml.HTMLEntity

	var (
		root  *Node
		stack []*Node
		nodes int
		seen  bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nodes, &tracker.ParseError{Format: string(FormatXML), Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if !seen {
				seen = true
				if isHTMLRoot(t.Name.Local) {
					return nil, nodes, nil
				}
			}
			nodes += 1 + len(t.Attr)
			if nodes > p.limits.MaxNodes {
				return nil, nodes, p.tooComplex()
			}
			if !build {
				continue
			}
			n := &Node{Name: t.Name.Local}
			if len(t.Attr) > 0 {
				n.Attrs = make(map[string]string, len(t.Attr))
				for _, a := range t.Attr {
					n.Attrs[a.Name.Local] = a.Value
				}
			}
			if len(stack) == 0 {
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			if build && len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if build && len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			}
		}
	}
	if !seen {
		return nil, nodes, &tracker.ParseError{Format: string(FormatXML), Err: errors.New("no root element")}
	}
	if !build {
		return &Node{}, nodes, nil
	}
	return root, nodes, nil
}
