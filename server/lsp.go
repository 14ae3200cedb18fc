package server

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf16"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/bytelox/compiler"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "bytelox-lsp"

var lspLog = commonlog.GetLogger("bytelox.lsp")

// LspServer provides editor features for bytelox scripts. Everything is
// derived from compiling the open document; nothing is executed.
type LspServer struct {
	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server.
func NewLSP() *LspServer {
	s := &LspServer{
		docs:    make(map[string]string),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	lspLog.Info("initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	lspLog.Info("shutting down")
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return complete(text, prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return hover(text, word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	locs := definition(uri, text, word)
	if len(locs) == 0 {
		return nil, nil
	}
	return locs, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return references(uri, text, word), nil
}

// keywordDocs is shown on hover over a keyword.
var keywordDocs = map[string]string{
	"and":    "reserved",
	"class":  "reserved",
	"else":   "reserved",
	"false":  "boolean literal",
	"for":    "reserved",
	"fun":    "reserved",
	"if":     "reserved",
	"nil":    "the absence of a value",
	"or":     "reserved",
	"print":  "`print expr;` writes the value of expr followed by a newline",
	"return": "reserved",
	"super":  "reserved",
	"this":   "reserved",
	"true":   "boolean literal",
	"var":    "`var name = expr;` defines a global variable",
	"while":  "reserved",
}

// complete returns keywords and declared globals starting with prefix.
func complete(text, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem

	keywordKind := protocol.CompletionItemKindKeyword
	for _, kw := range compiler.Keywords() {
		if strings.HasPrefix(kw, prefix) {
			detail := keywordDocs[kw]
			items = append(items, protocol.CompletionItem{
				Label:  kw,
				Kind:   &keywordKind,
				Detail: &detail,
			})
		}
	}

	varKind := protocol.CompletionItemKindVariable
	seen := make(map[string]bool)
	for _, g := range compiler.Check(text).Globals {
		if seen[g.Name] || !strings.HasPrefix(g.Name, prefix) {
			continue
		}
		seen[g.Name] = true
		detail := fmt.Sprintf("global, line %d", g.Line)
		items = append(items, protocol.CompletionItem{
			Label:  g.Name,
			Kind:   &varKind,
			Detail: &detail,
		})
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Label < items[j].Label })
	return items
}

// hover describes a keyword or a declared global.
func hover(text, word string) *protocol.Hover {
	if doc, ok := keywordDocs[word]; ok {
		return &protocol.Hover{
			Contents: protocol.MarkupContent{
				Kind:  protocol.MarkupKindMarkdown,
				Value: fmt.Sprintf("**%s** (keyword)\n\n%s", word, doc),
			},
		}
	}

	var lines []string
	for _, g := range compiler.Check(text).Globals {
		if g.Name == word {
			lines = append(lines, fmt.Sprintf("line %d", g.Line))
		}
	}
	if len(lines) == 0 {
		return nil
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: fmt.Sprintf("```lox\nvar %s\n```\nglobal, declared on %s", word, strings.Join(lines, ", ")),
		},
	}
}

// definition returns every var declaration of word.
func definition(uri protocol.DocumentUri, text, word string) []protocol.Location {
	var locs []protocol.Location
	for _, g := range compiler.Check(text).Globals {
		if g.Name != word {
			continue
		}
		start := protocol.Position{
			Line:      protocol.UInteger(g.Line - 1),
			Character: protocol.UInteger(g.Column - 1),
		}
		end := start
		end.Character += protocol.UInteger(len(g.Name))
		locs = append(locs, protocol.Location{URI: uri, Range: protocol.Range{Start: start, End: end}})
	}
	return locs
}

// references returns every identifier token spelled word.
func references(uri protocol.DocumentUri, text, word string) []protocol.Location {
	var locs []protocol.Location
	for _, tok := range compiler.ScanAll(text, false) {
		if tok.Type != compiler.TokenIdentifier || text[tok.Start:tok.End()] != word {
			continue
		}
		locs = append(locs, protocol.Location{
			URI: uri,
			Range: protocol.Range{
				Start: positionAt(text, tok.Start),
				End:   positionAt(text, tok.End()),
			},
		})
	}
	return locs
}

// publishDiagnostics compiles the document and reports every diagnostic.
func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	diagnostics := lspDiagnostics(text)
	lspLog.Debugf("%s: %d diagnostics", uri, len(diagnostics))

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

func lspDiagnostics(text string) []protocol.Diagnostic {
	diagnostics := []protocol.Diagnostic{}
	for _, d := range compiler.Check(text).Diagnostics {
		severity := protocol.DiagnosticSeverityError
		source := lspName
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range: protocol.Range{
				Start: positionAt(text, d.Start),
				End:   positionAt(text, d.End),
			},
			Severity: &severity,
			Source:   &source,
			Message:  d.Message,
		})
	}
	return diagnostics
}

// positionAt converts a byte offset into a zero-based line/character
// position. Characters are counted in UTF-16 code units.
func positionAt(text string, offset int) protocol.Position {
	if offset > len(text) {
		offset = len(text)
	}
	line := strings.Count(text[:offset], "\n")
	lineStart := strings.LastIndexByte(text[:offset], '\n') + 1
	return protocol.Position{
		Line:      protocol.UInteger(line),
		Character: protocol.UInteger(utf16Len(text[lineStart:offset])),
	}
}

// utf16Len counts the UTF-16 code units in s; LSP characters are measured
// in these units.
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// byteColumn converts a UTF-16 character offset within line to a byte
// offset, clamped to the line length.
func byteColumn(line string, char int) int {
	units := 0
	for i, r := range line {
		if units >= char {
			return i
		}
		units += utf16.RuneLen(r)
	}
	return len(line)
}

// lineAt returns the text of the cursor's line and the cursor's byte
// offset in it.
func lineAt(text string, pos protocol.Position) (string, int, bool) {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return "", 0, false
	}
	line := lines[pos.Line]
	return line, byteColumn(line, int(pos.Character)), true
}

// extractPrefix returns the identifier fragment ending at the cursor.
func extractPrefix(text string, pos protocol.Position) string {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return ""
	}
	start := col
	for start > 0 && compiler.IsIdentByte(line[start-1]) {
		start--
	}
	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return ""
	}
	start := col
	for start > 0 && compiler.IsIdentByte(line[start-1]) {
		start--
	}
	end := col
	for end < len(line) && compiler.IsIdentByte(line[end]) {
		end++
	}
	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
