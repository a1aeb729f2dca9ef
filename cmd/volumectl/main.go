// Command volumectl manages the registry of encrypted volumes.
package main

import "os"

func main() {
	os.Exit(execute())
}
