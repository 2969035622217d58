// Command webhookd serves the signed webhook dispatcher: the inbound
// receiver, the dispatch HTTP API and the retry worker.
package main

func main() {
	Execute()
}
