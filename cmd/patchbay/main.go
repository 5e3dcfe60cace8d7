// Command patchbay serves, plays and describes modular synth patches.
package main

func main() {
	Execute()
}
