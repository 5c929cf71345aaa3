package main

import (
	mapcmd "github.com/virtnbdbackup/virtnbdbackup/cmd/map"
)

func main() {
	mapcmd.Execute()
}
