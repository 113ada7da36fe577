package main

import "github.com/redhat-et/did-jwt-verifier/verifier-service/cmd"

func main() {
	cmd.Execute()
}
