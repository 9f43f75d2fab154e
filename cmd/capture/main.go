// Command capture records the compressed frames of one RTSP camera channel
// to a file or to standard output.
//
//	capture <sourceHost> <channel> <seconds> <outputDestination> [pidFile]
//
// seconds == 0 records until SIGINT or SIGTERM. An output of "-" writes the
// raw stream to stdout so it can be piped:
//
//	capture 10.17.4.118 1 0 - | ffmpeg -i - -vcodec copy -f mp4 video.mp4
package main

import (
	"os"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stderr))
}
