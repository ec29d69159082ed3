// Package trend tests whether an exposure-normalized failure rate drifts over
// time by fitting k_i ~ Poisson(E_i·exp(β0 + β1·x_i)) to binned counts.
package trend

import (
	"database/sql"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// design is the cleaned regression input: counts, log exposures and the
// standardized time covariate.
type design struct {
	k      []float64
	offset []float64
	x      []float64
	sd     float64 // seconds per unit of x
}

func newDesign(obs []Observation) design {
	var d design
	var mids []time.Time
	for _, o := range obs {
		if o.Count < 0 || o.Mid.IsZero() {
			continue
		}
		if !(o.Exposure > 0) || math.IsInf(o.Exposure, 0) {
			continue
		}
		d.k = append(d.k, float64(o.Count))
		d.offset = append(d.offset, math.Log(o.Exposure))
		mids = append(mids, o.Mid)
	}
	if len(mids) == 0 {
		return d
	}

	origin := mids[0]
	for _, m := range mids {
		if m.Before(origin) {
			origin = m
		}
	}
	secs := make([]float64, len(mids))
	for i, m := range mids {
		secs[i] = m.Sub(origin).Seconds()
	}
	mean, variance := stat.PopMeanVariance(secs, nil)
	d.sd = math.Sqrt(variance)
	if !(d.sd > 0) {
		d.sd = 1
	}
	d.x = make([]float64, len(secs))
	for i, s := range secs {
		d.x[i] = (s - mean) / d.sd
	}
	return d
}

func (d design) n() int { return len(d.k) }

// mu returns fitted means for coefficients (b0, b1).
func (d design) mu(b0, b1 float64) []float64 {
	m := make([]float64, d.n())
	for i := range m {
		m[i] = math.Exp(b0 + b1*d.x[i] + d.offset[i])
	}
	return m
}

// logLik is the Poisson log-likelihood including the log k! term.
func (d design) logLik(b0, b1 float64) float64 {
	ll := 0.0
	for i := range d.k {
		eta := b0 + b1*d.x[i] + d.offset[i]
		lg, _ := math.Lgamma(d.k[i] + 1)
		ll += d.k[i]*eta - math.Exp(eta) - lg
	}
	return ll
}

// information returns X'diag(mu)X.
func (d design) information(mu []float64) *mat.SymDense {
	var s0, s1, s2 float64
	for i := range mu {
		s0 += mu[i]
		s1 += mu[i] * d.x[i]
		s2 += mu[i] * d.x[i] * d.x[i]
	}
	return mat.NewSymDense(2, []float64{s0, s1, s1, s2})
}

func deviance(k, mu []float64) float64 {
	dev := 0.0
	for i := range k {
		if k[i] > 0 {
			dev += k[i]*math.Log(k[i]/mu[i]) - (k[i] - mu[i])
		} else {
			dev += mu[i]
		}
	}
	return 2 * dev
}

func pearsonChi2(k, mu []float64) float64 {
	x2 := 0.0
	for i := range k {
		r := k[i] - mu[i]
		x2 += r * r / mu[i]
	}
	return x2
}

// newton maximizes the likelihood from (b0, 0) with step halving. It returns
// the coefficients, the iteration count and whether the updates converged.
func (d design) newton(b0 float64, opts Options) (beta [2]float64, iter int, converged bool) {
	beta = [2]float64{b0, 0}
	ll := d.logLik(beta[0], beta[1])

	for iter = 1; iter <= opts.MaxIter; iter++ {
		mu := d.mu(beta[0], beta[1])
		var g0, g1 float64
		for i := range mu {
			r := d.k[i] - mu[i]
			g0 += r
			g1 += r * d.x[i]
		}

		var chol mat.Cholesky
		if ok := chol.Factorize(d.information(mu)); !ok {
			return beta, iter, false
		}
		var step mat.VecDense
		if err := chol.SolveVecTo(&step, mat.NewVecDense(2, []float64{g0, g1})); err != nil {
			return beta, iter, false
		}
		s0, s1 := step.AtVec(0), step.AtVec(1)

		next := [2]float64{beta[0] + s0, beta[1] + s1}
		nextLL := d.logLik(next[0], next[1])
		for h := 0; h < 30 && !(nextLL >= ll-1e-12*math.Abs(ll)); h++ {
			s0, s1 = s0/2, s1/2
			next = [2]float64{beta[0] + s0, beta[1] + s1}
			nextLL = d.logLik(next[0], next[1])
		}
		if math.IsNaN(nextLL) || math.IsInf(nextLL, 0) {
			return beta, iter, false
		}

		beta, ll = next, nextLL
		if math.Max(math.Abs(s0), math.Abs(s1)) < opts.Tolerance*(1+math.Max(math.Abs(beta[0]), math.Abs(beta[1]))) {
			return beta, iter, true
		}
	}
	return beta, opts.MaxIter, false
}

// covariance returns the 2x2 covariance of (b0, b1) on the standardized
// axis for the chosen estimator, or ok=false when it is not identifiable.
func (d design) covariance(mu []float64, method SEMethod) (cov *mat.SymDense, ok bool) {
	var chol mat.Cholesky
	if !chol.Factorize(d.information(mu)) {
		return nil, false
	}
	inv := mat.NewSymDense(2, nil)
	if err := chol.InverseTo(inv); err != nil {
		return nil, false
	}

	switch method {
	case SEPearson:
		df := d.n() - 2
		if df <= 0 {
			return nil, false
		}
		inv.ScaleSym(pearsonChi2(d.k, mu)/float64(df), inv)
		return inv, true

	case SERobust:
		var m00, m01, m11 float64
		for i := range mu {
			xi := [2]float64{1, d.x[i]}
			q := xi[0]*(inv.At(0, 0)*xi[0]+inv.At(0, 1)*xi[1]) +
				xi[1]*(inv.At(1, 0)*xi[0]+inv.At(1, 1)*xi[1])
			h := mu[i] * q
			if 1-h <= 1e-12 {
				return nil, false
			}
			u := (d.k[i] - mu[i]) / (1 - h)
			u2 := u * u
			m00 += u2
			m01 += u2 * d.x[i]
			m11 += u2 * d.x[i] * d.x[i]
		}
		meat := mat.NewSymDense(2, []float64{m00, m01, m01, m11})
		var sandwich mat.Dense
		sandwich.Product(inv, meat, inv)
		return mat.NewSymDense(2, []float64{
			sandwich.At(0, 0), sandwich.At(0, 1),
			sandwich.At(0, 1), sandwich.At(1, 1),
		}), true
	}
	return inv, true
}

// Test fits the trend model and computes Wald, likelihood-ratio and optional
// equivalence tests on the slope. Bins with non-positive or non-finite
// exposure are discarded. Data problems are reported through Fit.Status; only
// invalid options return an error.
func Test(obs []Observation, opts Options) (Fit, error) {
	if err := opts.Validate(); err != nil {
		return Fit{}, err
	}
	opts.SEMethod, _ = ParseSEMethod(string(opts.SEMethod))
	d := newDesign(obs)
	fit := Fit{
		Status:        StatusInsufficientData,
		SEMethod:      opts.SEMethod,
		NBins:         d.n(),
		Alpha:         opts.Alpha,
		EquivalenceRR: opts.EquivalenceRR,
	}
	if d.n() < 2 {
		return fit, nil
	}

	var sumK, sumE float64
	for i := range d.k {
		sumK += d.k[i]
		sumE += math.Exp(d.offset[i])
	}
	if sumK == 0 {
		fit.Status = StatusNoEvents
		return fit, nil
	}

	beta, iter, converged := d.newton(math.Log(sumK/sumE), opts)
	fit.Iterations = iter
	if !converged {
		fit.Status = StatusNotConverged
		return fit, nil
	}
	fit.Converged = true
	fit.Status = StatusOK

	mu := d.mu(beta[0], beta[1])
	ll := d.logLik(beta[0], beta[1])
	dev := deviance(d.k, mu)

	fit.Beta0 = valid(beta[0])
	fit.Beta1 = valid(beta[1] / d.sd)
	fit.SlopePerSD = valid(beta[1])
	fit.AIC = valid(-2*ll + 2*2)
	fit.Deviance = valid(dev)
	if df := d.n() - 2; df > 0 {
		phi := pearsonChi2(d.k, mu) / float64(df)
		fit.Dispersion = valid(phi)
		fit.SuggestOverdispersion = phi > opts.OverdispersionThreshold
	}

	if opts.LRT {
		mu0 := make([]float64, d.n())
		for i := range mu0 {
			mu0[i] = math.Exp(d.offset[i]) * sumK / sumE
		}
		delta := math.Max(deviance(d.k, mu0)-dev, 0)
		fit.LRTPValue = valid(distuv.ChiSquared{K: 1}.Survival(delta))
	}

	cov, ok := d.covariance(mu, opts.SEMethod)
	if !ok {
		return fit, nil
	}
	se := math.Sqrt(cov.At(1, 1))
	if !(se > 0) || math.IsInf(se, 0) {
		return fit, nil
	}
	b1 := fit.Beta1.Float64
	seS := se / d.sd
	fit.SEBeta1 = valid(seS)
	z := beta[1] / se
	fit.Z = valid(z)
	fit.PValue = valid(2 * distuv.UnitNormal.Survival(math.Abs(z)))

	zc := distuv.UnitNormal.Quantile(1 - opts.Alpha/2)
	lo, hi := b1-zc*seS, b1+zc*seS
	fit.Beta1Lo, fit.Beta1Hi = valid(lo), valid(hi)
	fit.RateRatioPerHour = valid(math.Exp(b1 * 3600))
	fit.RateRatioLo = valid(math.Exp(lo * 3600))
	fit.RateRatioHi = valid(math.Exp(hi * 3600))

	if opts.EquivalenceRR > 1 {
		bound := math.Log(opts.EquivalenceRR)
		bh, seh := b1*3600, seS*3600
		pLower := distuv.UnitNormal.Survival((bh + bound) / seh)
		pUpper := distuv.UnitNormal.Survival((bound - bh) / seh)
		p := math.Max(pLower, pUpper)
		fit.TOSTPValue = valid(p)
		fit.Equivalent = p < opts.Alpha
	}
	return fit, nil
}

func valid(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}
