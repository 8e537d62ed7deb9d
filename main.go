// Command danfs-crawler crawls the DANFS ship histories.
package main

import "github.com/JakeFAU/danfs-crawler/cmd"

func main() {
	cmd.Execute()
}
