package cmd

import (
	"fmt"
)

const banner = `
  _     _                  ____       _
 | |   (_)_ __   ___ _ __ / ___| __ _| |_ ___
 | |   | | '_ \ / _ \ '_ \ |  _ / _` + "`" + ` | __/ _ \
 | |___| | | | |  __/ | | | |_| | (_| | ||  __/
 |_____|_|_| |_|\___|_| |_|\____|\__,_|\__\___|

`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Auth Gateway - Version %s\x1b[0m\n\n", Version)
}
