package main

import "github.com/MeKo-Tech/bubblenav/cmd/bubblenav/cmd"

func main() {
	cmd.Execute()
}
