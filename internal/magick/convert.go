package magick

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"

	"github.com/google/uuid"
)

// ErrConversionFailed is returned by ConvertBytes when either pipeline
// process exits non-zero.
var ErrConversionFailed = errors.New("conversion failed")

// IsRemote reports whether the given source is an absolute HTTP or HTTPS
// URL. Any other scheme (or none) classifies the source as a local path.
func IsRemote(source string) bool {
	u, err := url.Parse(source)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// Sink receives the output of a streaming conversion. Chunk is called zero
// or more times with output bytes in production order; afterwards exactly
// one of Complete or Error is called, exactly once.
type Sink interface {
	// Chunk delivers a piece of the converted image. The slice is owned by
	// the receiver.
	Chunk(p []byte)

	// Complete signals that the whole image was delivered.
	Complete()

	// Error signals that the pipeline failed. Chunks delivered before the
	// error are a truncated prefix of the output and must be discarded.
	Error(err error)
}

// Converter runs a filter chain through the external convert tool,
// optionally fed by an external fetch tool when the source is remote.
//
// A Converter holds no per-request state and is safe for concurrent use;
// each Convert call owns its own pair of processes for its full lifetime.
type Converter struct {
	// ConvertPath is the convert executable. Defaults to "convert".
	ConvertPath string

	// CurlPath is the fetch executable used for remote sources. Defaults
	// to "curl".
	CurlPath string

	Logger *slog.Logger
}

func (cv *Converter) convertPath() string {
	if cv.ConvertPath != "" {
		return cv.ConvertPath
	}
	return "convert"
}

func (cv *Converter) curlPath() string {
	if cv.CurlPath != "" {
		return cv.CurlPath
	}
	return "curl"
}

func (cv *Converter) logger() *slog.Logger {
	if cv.Logger != nil {
		return cv.Logger
	}
	return slog.Default()
}

// terminate kills the process behind cmd if it is still running and reaps
// it. Already-finished processes are not an error.
func terminate(cmd *exec.Cmd, logger *slog.Logger) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Warn("failed to kill pipeline process", "pid", cmd.Process.Pid, "error", err)
	}
	_ = cmd.Wait()
}

// Convert runs the chain against the given source and streams the result
// into sink. The source is fetched through the fetch tool when it is a
// remote URL, otherwise it is passed to convert as a file path.
//
// Convert blocks until the terminal sink callback has been delivered.
// Cancelling ctx tears down both processes and reports an error.
func (cv *Converter) Convert(ctx context.Context, source string, chain *Chain, sink Sink) {
	logger := cv.logger().With("session", uuid.NewString())

	remote := IsRemote(source)
	convert := exec.CommandContext(ctx, cv.convertPath(), chain.CommandLine(source, remote)...)

	var fetch *exec.Cmd
	var fetchOut *os.File
	if remote {
		fetch = exec.CommandContext(ctx, cv.curlPath(), "-sfL", source)

		// Hand the fetch output to convert through a real pipe so the
		// children own the descriptors, then close our copies: a dead
		// reader must surface to the fetcher as a broken pipe.
		pr, pw, err := os.Pipe()
		if err != nil {
			sink.Error(fmt.Errorf("failed to create fetch pipe: %w", err))
			return
		}
		fetch.Stdout = pw
		convert.Stdin = pr

		if err := fetch.Start(); err != nil {
			pr.Close()
			pw.Close()
			sink.Error(fmt.Errorf("failed to start fetch process: %w", err))
			return
		}
		pw.Close()
		fetchOut = pr
	}

	stdout, err := convert.StdoutPipe()
	if err != nil {
		terminate(fetch, logger)
		if fetchOut != nil {
			fetchOut.Close()
		}
		sink.Error(fmt.Errorf("failed to open convert stdout: %w", err))
		return
	}
	stderr, err := convert.StderrPipe()
	if err != nil {
		terminate(fetch, logger)
		if fetchOut != nil {
			fetchOut.Close()
		}
		sink.Error(fmt.Errorf("failed to open convert stderr: %w", err))
		return
	}

	err = convert.Start()
	if fetchOut != nil {
		// The converter holds its own copy now.
		fetchOut.Close()
	}
	if err != nil {
		terminate(fetch, logger)
		sink.Error(fmt.Errorf("failed to start convert process: %w", err))
		return
	}

	logger.Debug("conversion started", "source", source, "args", chain.Args())

	// Drain diagnostics; they never affect exit classification.
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Error("conversion diagnostic", "stderr", scanner.Text())
		}
	}()

	// Relay stdout in production order. A blocking Read drains the pipe
	// through EOF, so no trailing bytes can be lost to a racing exit.
	var streamed int64
	buf := make([]byte, 64*1024)
	for {
		n, rerr := stdout.Read(buf)
		if n > 0 {
			streamed += int64(n)
			sink.Chunk(append([]byte(nil), buf[:n]...))
		}
		if rerr != nil {
			break
		}
	}

	<-stderrDone
	convertErr := convert.Wait()

	var fetchErr error
	if fetch != nil {
		if convertErr != nil {
			// The consumer is gone; don't wait for a fetcher that may
			// still be pumping bytes nowhere.
			terminate(fetch, logger)
		} else {
			fetchErr = fetch.Wait()
		}
	}

	switch {
	case convertErr != nil:
		logger.Error("convert process failed", "source", source, "error", convertErr)
		sink.Error(fmt.Errorf("convert process failed: %w", convertErr))
	case fetchErr != nil:
		logger.Error("fetch process failed", "source", source, "error", fetchErr)
		sink.Error(fmt.Errorf("fetch process failed: %w", fetchErr))
	default:
		logger.Debug("conversion complete", "source", source, "bytes", streamed)
		sink.Complete()
	}
}

// bufferSink accumulates a conversion result in memory.
type bufferSink struct {
	buf bytes.Buffer
	err error
}

func (s *bufferSink) Chunk(p []byte) { s.buf.Write(p) }
func (s *bufferSink) Complete()      {}
func (s *bufferSink) Error(err error) {
	s.err = err
}

// ConvertBytes is the blocking variant of Convert: it returns the full
// output buffer, or ErrConversionFailed (wrapping the cause) when either
// pipeline process ended non-zero. Success and failure are classified
// exactly as in Convert.
func (cv *Converter) ConvertBytes(ctx context.Context, source string, chain *Chain) ([]byte, error) {
	var sink bufferSink
	cv.Convert(ctx, source, chain, &sink)
	if sink.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConversionFailed, sink.err)
	}
	return sink.buf.Bytes(), nil
}
