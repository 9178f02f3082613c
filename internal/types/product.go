package types

import "strings"

// Product classification / attribute enums -----------------------------------------

// ProductType is the regulatory classification of a product.
type ProductType string

const (
	ProductTypeTCM        ProductType = "中成药"
	ProductTypeChemical   ProductType = "化学药"
	ProductTypeBiological ProductType = "生物药"
	ProductTypeCombined   ProductType = "中西结合"
	ProductTypeUnknown    ProductType = "未知"
)

// Known reports whether t is one of the enumerated classifications.
func (t ProductType) Known() bool {
	switch t {
	case ProductTypeTCM, ProductTypeChemical, ProductTypeBiological, ProductTypeCombined, ProductTypeUnknown:
		return true
	}
	return false
}

// HasTCM reports whether the classification carries traditional-medicine ingredients.
func (t ProductType) HasTCM() bool {
	return t == ProductTypeTCM || t == ProductTypeCombined
}

// ProductAttribute is the dispensing status of a product.
type ProductAttribute string

const (
	AttributeRX         ProductAttribute = "处方药"
	AttributeOTCA       ProductAttribute = "OTC甲类"
	AttributeOTCB       ProductAttribute = "OTC乙类"
	AttributeDual       ProductAttribute = "处方药/OTC双跨"
	AttributeSupplement ProductAttribute = "保健品"
	AttributeUnknown    ProductAttribute = "未知"
)

func (a ProductAttribute) Known() bool {
	switch a {
	case AttributeRX, AttributeOTCA, AttributeOTCB, AttributeDual, AttributeSupplement, AttributeUnknown:
		return true
	}
	return false
}

// InsuranceCategory is the reimbursement class in the national drug list.
type InsuranceCategory string

const (
	InsuranceClassA InsuranceCategory = "甲类"
	InsuranceClassB InsuranceCategory = "乙类"
	InsuranceNone   InsuranceCategory = "无"
)

// NormalizeInsurance maps free text onto one of the three allowed values.
// Anything ambiguous becomes InsuranceNone.
func NormalizeInsurance(s string) InsuranceCategory {
	v := strings.TrimSpace(s)
	switch {
	case v == string(InsuranceClassA), strings.EqualFold(v, "class-a"), v == "甲", v == "医保甲类":
		return InsuranceClassA
	case v == string(InsuranceClassB), strings.EqualFold(v, "class-b"), v == "乙", v == "医保乙类":
		return InsuranceClassB
	default:
		return InsuranceNone
	}
}

// Product info -------------------------------------------------------------------

// ProductSource is a grounding citation attached to a search answer.
type ProductSource struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// ProductInfo is produced by the search step and edited by the user during review.
type ProductInfo struct {
	BrandName         string            `json:"brandName"`
	ProductName       string            `json:"productName"`
	Ingredients       string            `json:"ingredients"`
	Indications       string            `json:"indications"`
	Classification    ProductType       `json:"classification"`
	Attribute         ProductAttribute  `json:"attribute"`
	DrugCategory      string            `json:"drugCategory"`
	InsuranceCategory InsuranceCategory `json:"insuranceCategory"`
	Origin            string            `json:"origin"`
	Sources           []ProductSource   `json:"sources,omitempty"`
}

const unknownText = "未知"

// Normalize fills every required key so that no field is left undefined, using the
// searched brand/product for the names.
func (p *ProductInfo) Normalize(brand, product string) {
	p.BrandName = firstNonEmpty(p.BrandName, brand)
	p.ProductName = firstNonEmpty(p.ProductName, product)
	p.Ingredients = firstNonEmpty(p.Ingredients, unknownText)
	p.Indications = firstNonEmpty(p.Indications, unknownText)
	p.Classification = ProductType(firstNonEmpty(string(p.Classification), string(ProductTypeUnknown)))
	p.Attribute = ProductAttribute(firstNonEmpty(string(p.Attribute), string(AttributeUnknown)))
	p.DrugCategory = firstNonEmpty(p.DrugCategory, unknownText)
	p.InsuranceCategory = NormalizeInsurance(string(p.InsuranceCategory))
	p.Origin = firstNonEmpty(p.Origin, unknownText)
}

// Clone returns a deep copy.
func (p ProductInfo) Clone() ProductInfo {
	if p.Sources != nil {
		p.Sources = append([]ProductSource(nil), p.Sources...)
	}
	return p
}

// ProductEdit carries a partial free-text overwrite of a ProductInfo. Nil fields are
// left untouched.
type ProductEdit struct {
	BrandName         *string `json:"brandName,omitempty"`
	ProductName       *string `json:"productName,omitempty"`
	Ingredients       *string `json:"ingredients,omitempty"`
	Indications       *string `json:"indications,omitempty"`
	Classification    *string `json:"classification,omitempty"`
	Attribute         *string `json:"attribute,omitempty"`
	DrugCategory      *string `json:"drugCategory,omitempty"`
	InsuranceCategory *string `json:"insuranceCategory,omitempty"`
	Origin            *string `json:"origin,omitempty"`
}

// Apply overwrites the selected fields of p.
func (e ProductEdit) Apply(p *ProductInfo) {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&p.BrandName, e.BrandName)
	set(&p.ProductName, e.ProductName)
	set(&p.Ingredients, e.Ingredients)
	set(&p.Indications, e.Indications)
	set(&p.DrugCategory, e.DrugCategory)
	set(&p.Origin, e.Origin)
	if e.Classification != nil {
		p.Classification = ProductType(*e.Classification)
	}
	if e.Attribute != nil {
		p.Attribute = ProductAttribute(*e.Attribute)
	}
	if e.InsuranceCategory != nil {
		p.InsuranceCategory = InsuranceCategory(*e.InsuranceCategory)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
