// Command securflow runs the SecurFlow security-hub gateway.
package main

import "github.com/virapa/AjaxSecurFlow/cmd/securflow/cmd"

func main() {
	cmd.Execute()
}
