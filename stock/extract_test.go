package stock

import "testing"

const productPage = `<!DOCTYPE html>
<html>
<head><title>UltraWidget 3000 — MegaStore</title>
<style>.price { font-weight: bold }</style>
<script>var inventory = "out of stock";</script>
</head>
<body>
<h1>UltraWidget 3000</h1>
<span class="price">$1,299.99</span>
<button>Add to Cart</button>
</body>
</html>`

func TestExtract_InStock(t *testing.T) {
	p := Extract(productPage, DefaultKeywords())
	if p.Status != InStock {
		t.Fatalf("status: got %s, want in_stock", p.Status)
	}
	if p.Title != "UltraWidget 3000 — MegaStore" {
		t.Fatalf("title: got %q", p.Title)
	}
	if p.Price != "$1,299.99" {
		t.Fatalf("price: got %q", p.Price)
	}
}

func TestExtract_ScriptTextIgnored(t *testing.T) {
	// The "out of stock" string only lives inside <script>; it must not
	// flip the verdict.
	p := Extract(productPage, DefaultKeywords())
	if p.Status == OutOfStock {
		t.Fatal("script content leaked into keyword matching")
	}
}

func TestExtract_NegativeWinsOverPositive(t *testing.T) {
	page := `<html><body>
	<h1>Widget</h1>
	<button disabled>Add to Cart</button>
	<div class="banner">Sold out</div>
	</body></html>`
	p := Extract(page, DefaultKeywords())
	if p.Status != OutOfStock {
		t.Fatalf("got %s, want out_of_stock", p.Status)
	}
}

func TestExtract_Statuses(t *testing.T) {
	cases := []struct {
		body string
		want Status
	}{
		{"Pre-order now for March delivery", PreOrder},
		{"Coming soon to this store", ComingSoon},
		{"In stock and ready to ship", InStock},
		{"Currently unavailable", OutOfStock},
		{"Nothing recognizable here", Unknown},
	}
	for _, tc := range cases {
		p := Extract("<html><body><p>"+tc.body+"</p></body></html>", DefaultKeywords())
		if p.Status != tc.want {
			t.Errorf("%q: got %s, want %s", tc.body, p.Status, tc.want)
		}
	}
}

func TestExtract_TitleFallsBackToH1(t *testing.T) {
	p := Extract(`<html><body><h1>  Console Bundle </h1></body></html>`, DefaultKeywords())
	if p.Title != "Console Bundle" {
		t.Fatalf("got %q, want h1 fallback", p.Title)
	}
}

func TestExtract_PriceVariants(t *testing.T) {
	cases := []struct {
		body, want string
	}{
		{`price: 499,99 €`, "499,99 €"},
		{`EUR 49.90 incl. VAT`, "EUR 49.90"},
		{`now only £12.50`, "£12.50"},
	}
	for _, tc := range cases {
		p := Extract("<html><body>"+tc.body+"</body></html>", DefaultKeywords())
		if p.Price != tc.want {
			t.Errorf("%q: got %q, want %q", tc.body, p.Price, tc.want)
		}
	}
}

func TestExtract_EmptyInput(t *testing.T) {
	p := Extract("", DefaultKeywords())
	if p.Status != Unknown || p.Title != "" || p.Price != "" {
		t.Fatalf("empty input: got %+v", p)
	}
}
