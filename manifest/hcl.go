package manifest

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// ParseHCL decodes an HCL manifest:
//
//	scripts_dir = "scripts"
//
//	item "sales.orders" {
//	  type      = "table"
//	  container = "sales"
//	  target    = "1.2.0"
//	  requires  = ["sales.customers", "audit?"]
//
//	  previous_name "order_header" { until = "1.0.0" }
//
//	  script "install" {
//	    version = "1.2.0"
//	    file    = "sql/orders.sql"
//	  }
//	}
//
// filename is only used in diagnostics.
func ParseHCL(data []byte, filename string) (*Document, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: parse hcl: %w", ErrInvalidManifest, diags)
	}

	var doc Document
	if diags := gohcl.DecodeBody(file.Body, nil, &doc); diags.HasErrors() {
		return nil, fmt.Errorf("%w: decode hcl: %w", ErrInvalidManifest, diags)
	}
	return &doc, nil
}
