// Package speedtest measures download/upload throughput against
// speedtest.net servers using github.com/showwin/speedtest-go.
//
// A Provider splits a measurement into three steps (DiscoverBestServer,
// MeasureDownload, MeasureUpload) so callers can check for cancellation
// between them. Rates are reported in bits per second.
package speedtest
