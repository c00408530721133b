package indexer

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// ProgressReporter follows one ingest run: files are chunked one by one,
// then every chunk is embedded in a single batch.
type ProgressReporter interface {
	FilesFound(total int)
	FileChunked(path string, chunks int)
	// Embedding marks the start of the embedding batch. The returned func
	// is called once the batch is stored.
	Embedding(chunks int) (done func())
}

// NewProgress returns a terminal reporter on stderr, or a silent one.
func NewProgress(enabled bool) ProgressReporter {
	if !enabled {
		return silentProgress{}
	}
	return &terminalProgress{w: os.Stderr}
}

// DefaultProgressEnabled reports whether stderr is a terminal.
func DefaultProgressEnabled() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

type silentProgress struct{}

func (silentProgress) FilesFound(int)          {}
func (silentProgress) FileChunked(string, int) {}
func (silentProgress) Embedding(int) func()    { return func() {} }

// terminalProgress counts files on a bar whose description carries the
// running chunk total, then spins while the batch is embedded.
type terminalProgress struct {
	w      io.Writer
	files  *progressbar.ProgressBar
	chunks int
}

var ingestTheme = progressbar.Theme{
	Saucer:        "=",
	SaucerHead:    ">",
	SaucerPadding: " ",
	BarStart:      "[",
	BarEnd:        "]",
}

func (p *terminalProgress) FilesFound(total int) {
	if total <= 0 {
		return
	}
	p.files = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionSetDescription("chunking"),
		progressbar.OptionSetWidth(32),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(ingestTheme),
	)
}

func (p *terminalProgress) FileChunked(_ string, chunks int) {
	if p.files == nil {
		return
	}
	p.chunks += chunks
	p.files.Describe(fmt.Sprintf("chunking (%d chunks)", p.chunks))
	_ = p.files.Add(1)
}

func (p *terminalProgress) Embedding(chunks int) func() {
	if p.files != nil {
		_ = p.files.Finish()
		p.files = nil
	}

	spinner := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionSpinnerType(9),
		progressbar.OptionSetDescription(fmt.Sprintf("embedding %d chunks", chunks)),
		progressbar.OptionSetWidth(10),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(ingestTheme),
	)

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(120 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = spinner.Add(1)
			case <-done:
				_ = spinner.Finish()
				return
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}
