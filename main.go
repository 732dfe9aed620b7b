package main

import (
	"github.com/findy-network/findy-didcomm/cmd"
	"github.com/golang/glog"
)

func main() {
	defer glog.Flush()

	cmd.Execute()
}
