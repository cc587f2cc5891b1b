package strategy

// toChan feeds a series into a channel the cinar indicators consume.
func toChan(values []float64) chan float64 {
	ch := make(chan float64, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	return ch
}

// drain collects an indicator output channel into a slice.
func drain(ch <-chan float64) []float64 {
	var out []float64
	for v := range ch {
		out = append(out, v)
	}
	return out
}

// drainBands consumes the three Bollinger channels in lockstep; they
// share a producer, so reading them one after another can stall it.
func drainBands(upper, middle, lower <-chan float64) (up, mid, low []float64) {
	for {
		u, uok := <-upper
		m, mok := <-middle
		l, lok := <-lower
		if !uok || !mok || !lok {
			return up, mid, low
		}
		up = append(up, u)
		mid = append(mid, m)
		low = append(low, l)
	}
}

func last(series []float64) float64 {
	return series[len(series)-1]
}
