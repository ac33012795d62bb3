// Command stdiomux runs and inspects a set of stdio JSON-RPC backends
// living in containers.
package main

func main() {
	Execute()
}
