// Command tapgate runs the interception decision engine.
package main

import "github.com/Sentinel-Gate/tapgate/cmd/tapgate/cmd"

func main() {
	cmd.Execute()
}
