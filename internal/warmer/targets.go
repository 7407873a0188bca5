package warmer

// DefaultReachTargets returns the fixed reachability sweep: large anycast
// front ends plus two resolver IPs that also answer HTTPS.
func DefaultReachTargets() []ReachTarget {
	return []ReachTarget{
		{URL: "https://www.google.com"},
		{URL: "https://www.cloudflare.com"},
		{URL: "https://www.amazon.com"},
		{URL: "https://1.1.1.1"},
		{URL: "https://8.8.8.8"},
	}
}

// DefaultDatagramTargets returns the fixed datagram sweep: public DNS resolvers.
func DefaultDatagramTargets() []DatagramTarget {
	return []DatagramTarget{
		{Address: "8.8.8.8", Port: 53},
		{Address: "8.8.4.4", Port: 53},
		{Address: "1.1.1.1", Port: 53},
		{Address: "1.0.0.1", Port: 53},
	}
}
