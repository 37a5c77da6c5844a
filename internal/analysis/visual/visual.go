package visual

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"quantcore/internal/market"
)

// Point 资金曲线上的一个点。
type Point struct {
	Time     time.Time
	Equity   float64
	Drawdown float64
}

// Mark 买卖点标注。
type Mark struct {
	Time  time.Time
	Buy   bool
	Price float64
}

// ReportInput 回测报告图的输入。
type ReportInput struct {
	Context  context.Context
	Title    string
	Subtitle string
	Candles  market.Candles
	Curve    []Point
	Marks    []Mark
}

// Report 渲染结果。PNG 仅在请求导出且浏览器可用时存在。
type Report struct {
	HTML     []byte `json:"-"`
	PNG      []byte `json:"-"`
	Filename string `json:"filename"`
}

func (r *Report) DataURI() string {
	if r == nil || len(r.PNG) == 0 {
		return ""
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(r.PNG)
}

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorEquity        = "#3b82f6"
	colorDrawdown      = "#fb7185"

	chartWidthPx     = 1600
	klineHeightPx    = 520
	equityHeightPx   = 320
	drawdownHeightPx = 220
)

// RenderHTML 生成价格、资金曲线、回撤三联图。
func RenderHTML(in ReportInput) (Report, error) {
	if len(in.Curve) == 0 {
		return Report{}, fmt.Errorf("empty equity curve for %s", in.Title)
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.PageTitle = in.Title

	if len(in.Candles) > 0 {
		page.AddCharts(buildPriceChart(in))
	}
	page.AddCharts(buildEquityChart(in), buildDrawdownChart(in))

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return Report{}, err
	}
	return Report{HTML: buf.Bytes(), Filename: fileStem(in.Title)}, nil
}

// RenderPNG 在 RenderHTML 基础上用无头浏览器截图。
func RenderPNG(in ReportInput) (Report, error) {
	rep, err := RenderHTML(in)
	if err != nil {
		return Report{}, err
	}
	if err := EnsureHeadlessAvailable(in.Context); err != nil {
		return rep, err
	}
	height := equityHeightPx + drawdownHeightPx
	if len(in.Candles) > 0 {
		height += klineHeightPx
	}
	png, err := renderHTMLToPNG(in.Context, rep.HTML, chartWidthPx, height+80)
	if err != nil {
		return rep, err
	}
	rep.PNG = png
	return rep, nil
}

// WriteFiles 把报告写入 dir，返回主文件路径（有 PNG 时为 PNG）。
func WriteFiles(dir string, rep Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	stem := rep.Filename
	if stem == "" {
		stem = "report"
	}
	htmlPath := filepath.Join(dir, stem+".html")
	if err := os.WriteFile(htmlPath, rep.HTML, 0o644); err != nil {
		return "", err
	}
	if len(rep.PNG) == 0 {
		return htmlPath, nil
	}
	pngPath := filepath.Join(dir, stem+".png")
	if err := os.WriteFile(pngPath, rep.PNG, 0o644); err != nil {
		return "", err
	}
	return pngPath, nil
}

var (
	headlessOnce sync.Once
	headlessErr  error
)

func EnsureHeadlessAvailable(ctx context.Context) error {
	headlessOnce.Do(func() {
		targetCtx := ctx
		if targetCtx == nil {
			targetCtx = context.Background()
		}
		parent, cancel := chromedp.NewContext(targetCtx)
		defer cancel()
		headlessErr = chromedp.Run(parent)
	})
	return headlessErr
}

func initOpts(height int) opts.Initialization {
	return opts.Initialization{
		Theme:           types.ThemeWesteros,
		Width:           fmt.Sprintf("%dpx", chartWidthPx),
		Height:          fmt.Sprintf("%dpx", height),
		BackgroundColor: colorBackground,
	}
}

func gridY() opts.YAxis {
	return opts.YAxis{
		Scale:     opts.Bool(true),
		AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
	}
}

func buildPriceChart(in ReportInput) *charts.Kline {
	minPrice, maxPrice := priceBounds(in.Candles)
	padding := (maxPrice - minPrice) * 0.05
	if padding <= 0 {
		padding = math.Max(0.01, math.Abs(maxPrice)*0.01)
	}
	y := gridY()
	y.Min = round(minPrice-padding, 4)
	y.Max = round(maxPrice+padding, 4)

	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(klineHeightPx)),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTitleOpts(opts.Title{
			Title:         in.Title,
			Subtitle:      in.Subtitle,
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(y),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)
	x := make([]string, len(in.Candles))
	data := make([]opts.KlineData, len(in.Candles))
	for i, c := range in.Candles {
		x[i] = axisLabel(c.Time())
		data[i] = opts.KlineData{Value: [4]float64{c.Open, c.Close, c.Low, c.High}}
	}
	kline.SetXAxis(x)
	kline.AddSeries("Price", data, charts.WithMarkPointNameCoordItemOpts(markPoints(in.Marks)...))
	return kline
}

func markPoints(marks []Mark) []opts.MarkPointNameCoordItem {
	out := make([]opts.MarkPointNameCoordItem, 0, len(marks))
	for _, m := range marks {
		name, color := "S", colorBear
		if m.Buy {
			name, color = "B", colorBull
		}
		out = append(out, opts.MarkPointNameCoordItem{
			Name:       name,
			Coordinate: []interface{}{axisLabel(m.Time), round(m.Price, 4)},
			Symbol:     "pin",
			SymbolSize: 30,
			Label:      &opts.Label{Show: opts.Bool(true), Color: color},
		})
	}
	return out
}

func buildEquityChart(in ReportInput) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(equityHeightPx)),
		charts.WithTitleOpts(opts.Title{Title: "Equity", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
		charts.WithYAxisOpts(gridY()),
	)
	x := make([]string, len(in.Curve))
	data := make([]opts.LineData, len(in.Curve))
	for i, p := range in.Curve {
		x[i] = axisLabel(p.Time)
		data[i] = opts.LineData{Value: round(p.Equity, 2)}
	}
	line.SetXAxis(x)
	line.AddSeries("Equity", data,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
	)
	return line
}

func buildDrawdownChart(in ReportInput) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(drawdownHeightPx)),
		charts.WithTitleOpts(opts.Title{Title: "Drawdown", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	x := make([]string, len(in.Curve))
	data := make([]opts.BarData, len(in.Curve))
	for i, p := range in.Curve {
		x[i] = axisLabel(p.Time)
		data[i] = opts.BarData{
			Value:     round(-p.Drawdown*100, 3),
			ItemStyle: &opts.ItemStyle{Color: colorDrawdown, Opacity: opts.Float(0.6)},
		}
	}
	bar.SetXAxis(x)
	bar.AddSeries("Drawdown %", data)
	return bar
}

func axisLabel(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04")
}

func fileStem(title string) string {
	title = strings.ToLower(strings.TrimSpace(title))
	if title == "" {
		return "report"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, title)
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}

func priceBounds(candles market.Candles) (minVal, maxVal float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	minVal = candles[0].Low
	maxVal = candles[0].High
	for _, c := range candles {
		minVal = math.Min(minVal, c.Low)
		maxVal = math.Max(maxVal, c.High)
	}
	return minVal, maxVal
}

func renderHTMLToPNG(ctx context.Context, html []byte, width, height int) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()

	timeoutCtx, cancelTimeout := context.WithTimeout(parent, 20*time.Second)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 0),
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, err
	}
	return screenshot, nil
}
