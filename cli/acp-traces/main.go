package main

import (
	"os"

	acptracescmder "github.com/papercomputeco/acptraces/cmd/acptraces"
)

func main() {
	os.Exit(acptracescmder.Execute())
}
