package main

import (
	"github.com/virtnbdbackup/virtnbdbackup/cmd/backup"
)

func main() {
	backup.Execute()
}
