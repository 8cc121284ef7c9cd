// browserd serves a browser-automation agent over HTTP. A single long-lived
// worker owns the browser; tasks are run one at a time.
package main

func main() {
	Execute()
}
