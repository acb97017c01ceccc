package main

import "github.com/mvp-joe/cortex-lsp/internal/cli"

func main() {
	cli.Execute()
}
