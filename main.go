package main

import "github.com/sentinelsec/sentinel/cmd"

// execCmd is swappable so main stays testable.
var execCmd = cmd.Execute

func main() {
	execCmd()
}
