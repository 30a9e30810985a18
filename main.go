package main

import "github.com/PowerSchill/automation-concierge/cmd"

func main() {
	cmd.Execute()
}
