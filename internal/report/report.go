// internal/report/report.go
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/caliper-cli/api/schemas"
	"github.com/xkilldash9x/caliper-cli/internal/config"
)

// Default file names used when the output path is a directory.
const (
	jsonFileName  = "report.json"
	junitFileName = "junit.xml"
)

// Reporter renders a finished batch result to an output. Implementations own
// their writer; Close releases it.
type Reporter interface {
	Write(result *schemas.BatchResult) error
	Close() error
}

// nopWriteCloser wraps an io.Writer with a no-op Close, used for stdout.
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// Emit renders the result in every configured format. With format "both" the
// output path must be a directory, so the two documents get their own files.
func Emit(cfg config.ReportConfig, result *schemas.BatchResult, logger *zap.Logger) error {
	log := logger.Named("report")

	formats, err := splitFormats(cfg.Format)
	if err != nil {
		return err
	}

	for _, format := range formats {
		dest, err := resolveDest(cfg.Out, format, len(formats) > 1)
		if err != nil {
			return err
		}

		rep, err := open(format, dest, cfg.Pretty)
		if err != nil {
			return err
		}
		if err := rep.Write(result); err != nil {
			rep.Close()
			return err
		}
		if err := rep.Close(); err != nil {
			return err
		}
		if dest != "" {
			log.Info("Report written.", zap.String("format", format), zap.String("path", dest))
		}
	}
	return nil
}

func splitFormats(format string) ([]string, error) {
	switch format {
	case "json", "junit":
		return []string{format}, nil
	case "both":
		return []string{"json", "junit"}, nil
	default:
		return nil, fmt.Errorf("unsupported report format: %s", format)
	}
}

// resolveDest maps the configured output path to a concrete file for one
// format. Empty means stdout, a directory gets the format's default name.
func resolveDest(out, format string, multi bool) (string, error) {
	if out == "" {
		if multi {
			return "", fmt.Errorf("report format %q needs an output directory, stdout can only carry one document", "both")
		}
		return "", nil
	}

	expanded, err := homedir.Expand(out)
	if err != nil {
		return "", fmt.Errorf("expanding output path %s: %w", out, err)
	}

	info, statErr := os.Stat(expanded)
	isDir := statErr == nil && info.IsDir()
	if !isDir {
		if multi {
			return "", fmt.Errorf("report format %q needs an output directory, got %s", "both", out)
		}
		return expanded, nil
	}

	name := jsonFileName
	if format == "junit" {
		name = junitFileName
	}
	return filepath.Join(expanded, name), nil
}

func open(format, dest string, pretty bool) (Reporter, error) {
	var writer io.WriteCloser
	if dest == "" {
		writer = nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(dest)
		if err != nil {
			return nil, fmt.Errorf("creating output file %s: %w", dest, err)
		}
		writer = f
	}

	switch format {
	case "json":
		return NewJSONReporter(writer, pretty), nil
	case "junit":
		return NewJUnitReporter(writer), nil
	default:
		writer.Close()
		return nil, fmt.Errorf("unsupported report format: %s", format)
	}
}
