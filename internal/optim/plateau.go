package optim

// Plateau reduces an optimizer's learning rate when a maximised metric stops
// improving: after more than Patience consecutive epochs without a relative
// improvement of Threshold, the LR is multiplied by Factor (never below MinLR).
type Plateau struct {
	opt       Optimizer
	Factor    float64
	Patience  int
	Threshold float64
	MinLR     float64

	best   float64
	bad    int
	seeded bool
}

// NewPlateau attaches a scheduler to opt monitoring a metric in max mode.
func NewPlateau(opt Optimizer, factor float64, patience int) *Plateau {
	return &Plateau{
		opt:       opt,
		Factor:    factor,
		Patience:  patience,
		Threshold: 1e-4,
	}
}

// Step records one epoch's metric and returns true if the LR was reduced.
func (p *Plateau) Step(metric float64) bool {
	if !p.seeded || metric > p.best*(1+p.Threshold) {
		p.best = metric
		p.bad = 0
		p.seeded = true
		return false
	}
	p.bad++
	if p.bad <= p.Patience {
		return false
	}
	p.bad = 0

	lr := p.opt.LR() * p.Factor
	if lr < p.MinLR {
		lr = p.MinLR
	}
	if lr == p.opt.LR() {
		return false
	}
	p.opt.SetLR(lr)
	return true
}

// BadEpochs returns the current count of epochs without improvement.
func (p *Plateau) BadEpochs() int { return p.bad }
