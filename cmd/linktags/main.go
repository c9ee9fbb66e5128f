package main

import "github.com/MrSnakeDoc/linktags/cmd/linktags/cmd"

func main() {
	cmd.Execute()
}
