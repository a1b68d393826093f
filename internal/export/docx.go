package export

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

const docxMimeType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// pandoc converts rendered HTML into another document format.
type pandoc struct {
	binary string
	target string
}

func (p pandoc) args(title string) []string {
	args := []string{"--from=html", "--to=" + p.target, "--standalone", "--output=-"}
	if title = strings.TrimSpace(title); title != "" {
		args = append(args, "--metadata=title:"+title)
	}
	return args
}

func (p pandoc) convert(ctx context.Context, html, title string) ([]byte, error) {
	path, err := exec.LookPath(p.binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found", ErrDOCXDependencyMissing, p.binary)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, p.args(title)...)
	cmd.Stdin = strings.NewReader(html)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("pandoc: %s: %w", msg, err)
		}
		return nil, fmt.Errorf("pandoc: %w", err)
	}
	return stdout.Bytes(), nil
}

func exportDOCX(ctx context.Context, html, title string) (*Result, error) {
	data, err := pandoc{binary: "pandoc", target: "docx"}.convert(ctx, html, title)
	if err != nil {
		return nil, err
	}
	return &Result{
		Data:     data,
		Filename: sanitizeFilename(title) + ".docx",
		MimeType: docxMimeType,
	}, nil
}
