package indicators

import "github.com/rustyeddy/mtftrader/market"

// Params configures the standard indicator set.
type Params struct {
	RSI            int     `json:"rsi" yaml:"rsi"`
	MACDFast       int     `json:"macd_fast" yaml:"macd_fast"`
	MACDSlow       int     `json:"macd_slow" yaml:"macd_slow"`
	MACDSignal     int     `json:"macd_signal" yaml:"macd_signal"`
	Bollinger      int     `json:"bollinger" yaml:"bollinger"`
	BollingerK     float64 `json:"bollinger_k" yaml:"bollinger_k"`
	SMAFast        int     `json:"sma_fast" yaml:"sma_fast"`
	SMASlow        int     `json:"sma_slow" yaml:"sma_slow"`
	ATR            int     `json:"atr" yaml:"atr"`
	Momentum       int     `json:"momentum" yaml:"momentum"`
	ROC            int     `json:"roc" yaml:"roc"`
	ADX            int     `json:"adx" yaml:"adx"`
	StochK         int     `json:"stoch_k" yaml:"stoch_k"`
	StochD         int     `json:"stoch_d" yaml:"stoch_d"`
	StochSmooth    int     `json:"stoch_smooth" yaml:"stoch_smooth"`
	WilliamsR      int     `json:"williams_r" yaml:"williams_r"`
	CCI            int     `json:"cci" yaml:"cci"`
	KeltnerEMA     int     `json:"keltner_ema" yaml:"keltner_ema"`
	KeltnerATR     int     `json:"keltner_atr" yaml:"keltner_atr"`
	KeltnerMult    float64 `json:"keltner_mult" yaml:"keltner_mult"`
	Donchian       int     `json:"donchian" yaml:"donchian"`
	MFI            int     `json:"mfi" yaml:"mfi"`
	CMF            int     `json:"cmf" yaml:"cmf"`
	IchimokuTenkan int     `json:"ichimoku_tenkan" yaml:"ichimoku_tenkan"`
	IchimokuKijun  int     `json:"ichimoku_kijun" yaml:"ichimoku_kijun"`
	IchimokuSpanB  int     `json:"ichimoku_span_b" yaml:"ichimoku_span_b"`
	PSARStart      float64 `json:"psar_start" yaml:"psar_start"`
	PSARStep       float64 `json:"psar_step" yaml:"psar_step"`
	PSARMax        float64 `json:"psar_max" yaml:"psar_max"`
	Fisher         int     `json:"fisher" yaml:"fisher"`

	// Extended adds the oscillator, trend, channel and volume indicators on
	// top of the basic RSI/MACD/Bollinger/MA/momentum set.
	Extended bool `json:"extended" yaml:"extended"`
}

// DefaultParams returns the conventional periods for every indicator.
func DefaultParams() Params {
	return Params{
		RSI: 14, MACDFast: 12, MACDSlow: 26, MACDSignal: 9,
		Bollinger: 20, BollingerK: 2, SMAFast: 20, SMASlow: 50,
		ATR: 14, Momentum: 20, ROC: 12, ADX: 14,
		StochK: 14, StochD: 3, StochSmooth: 3,
		WilliamsR: 14, CCI: 20,
		KeltnerEMA: 20, KeltnerATR: 10, KeltnerMult: 2,
		Donchian: 20, MFI: 14, CMF: 20,
		IchimokuTenkan: 9, IchimokuKijun: 26, IchimokuSpanB: 52,
		PSARStart: 0.02, PSARStep: 0.02, PSARMax: 0.2,
		Fisher:   9,
		Extended: true,
	}
}

// Standard is the default Library.
type Standard struct {
	Params Params
}

func NewStandard(p Params) *Standard { return &Standard{Params: p} }

// Indicators builds a fresh set of indicators for one computation.
func (s *Standard) Indicators() []Indicator {
	p := s.Params
	inds := []Indicator{
		NewRSI(p.RSI),
		NewMACD(p.MACDFast, p.MACDSlow, p.MACDSignal),
		NewBollinger(p.Bollinger, p.BollingerK),
		NewSMA(p.SMAFast),
		NewSMA(p.SMASlow),
		NewATR(p.ATR),
		NewMomentum(p.Momentum),
	}
	if !p.Extended {
		return inds
	}
	return append(inds,
		NewROC(p.ROC),
		NewADX(p.ADX),
		NewStochastic(p.StochK, p.StochD, p.StochSmooth),
		NewWilliamsR(p.WilliamsR),
		NewCCI(p.CCI),
		NewKeltner(p.KeltnerEMA, p.KeltnerATR, p.KeltnerMult),
		NewDonchian(p.Donchian),
		NewMFI(p.MFI),
		NewCMF(p.CMF),
		NewIchimoku(p.IchimokuTenkan, p.IchimokuKijun, p.IchimokuSpanB),
		NewPSAR(p.PSARStart, p.PSARStep, p.PSARMax),
		NewFisher(p.Fisher),
	)
}

// Warmup is the longest warmup among the configured indicators.
func (s *Standard) Warmup() int {
	w := 0
	for _, ind := range s.Indicators() {
		if ind.Warmup() > w {
			w = ind.Warmup()
		}
	}
	return w
}

func (s *Standard) Compute(bars []market.Bar) (Set, error) {
	return Run(bars, s.Indicators()...)
}
