package main

import (
	"ojsbot-backend/cmd/ojs-cli/cmd"
	"ojsbot-backend/lib/serviceutil"
)

func main() {
	cmd.ExecuteContext(serviceutil.SignalContext())
}
