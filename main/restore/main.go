package main

import (
	"github.com/virtnbdbackup/virtnbdbackup/cmd/restore"
)

func main() {
	restore.Execute()
}
