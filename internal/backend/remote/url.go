package remote

// extractRemoteURL recovers the MCP endpoint URL from the launch spec, the
// same URL mcp-remote derives its token cache hash from. Direct node
// invocations carry it as the second script argument; npx invocations carry
// it right after the package name.
func extractRemoteURL(command string, args []string, fallback string) string {
	switch command {
	case "node":
		if len(args) >= 2 {
			return args[1]
		}
	case "npx":
		for i, arg := range args {
			if arg == "mcp-remote" && i+1 < len(args) {
				return args[i+1]
			}
		}
	}
	return fallback
}
