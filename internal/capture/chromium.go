package capture

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// chromiumBinaries are probed in order when no binary is configured.
var chromiumBinaries = []string{
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
}

const captureTimeout = 2 * time.Minute

// Chromium renders pages to PDF with a headless browser. The zero value
// probes the PATH for a known binary on first use.
type Chromium struct {
	Binary string
}

// Capture prints pageURL to a PDF at destPath.
func (c Chromium) Capture(ctx context.Context, pageURL, destPath string) (Document, error) {
	bin := c.Binary
	if bin == "" {
		var err error
		if bin, err = findChromium(); err != nil {
			return Document{}, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, captureTimeout)
	defer cancel()

	args := chromiumArgs(pageURL, destPath)
	cmd := exec.CommandContext(ctx, bin, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return Document{}, fmt.Errorf("rendering %s: %w, output: %s", pageURL, err, out)
	}
	if _, err := os.Stat(destPath); err != nil {
		return Document{}, fmt.Errorf("rendering %s: no output produced: %w", pageURL, err)
	}

	return Document{
		SourcePath:   destPath,
		DomainOrName: DomainFromURL(pageURL),
		Metadata:     map[string]string{"url": pageURL, "accessDate": accessDate(time.Now())},
		Captured:     true,
	}, nil
}

func chromiumArgs(pageURL, destPath string) []string {
	return []string{
		"--headless",
		"--disable-gpu",
		"--no-sandbox",
		"--run-all-compositor-stages-before-draw",
		"--virtual-time-budget=10000",
		"--print-to-pdf=" + destPath,
		pageURL,
	}
}

func findChromium() (string, error) {
	for _, name := range chromiumBinaries {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no chromium binary found; install chromium or set capture.binary")
}
