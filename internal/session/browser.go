package session

import (
	"fmt"
	"io"
	"os/exec"
	"runtime"
)

// Browser открывает страницу liveness-проверки.
type Browser interface {
	Open(url string) error
}

// SystemBrowser — браузер ОС по умолчанию.
type SystemBrowser struct{}

func (SystemBrowser) Open(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "darwin":
		cmd = exec.Command("open", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

// PrintBrowser только печатает ссылку (headless, ssh).
type PrintBrowser struct {
	W io.Writer
}

func (b PrintBrowser) Open(url string) error {
	_, err := fmt.Fprintf(b.W, "Open %s to complete the face liveness check\n", url)
	return err
}
