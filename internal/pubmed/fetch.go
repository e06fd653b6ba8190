// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pubmed

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// articleSetElement is the root element of an EFetch XML response.
const articleSetElement = "PubmedArticleSet"

// Fetch retrieves bibliographic XML for every identifier in ids with a single
// EFetch request. A response covering fewer records than requested is not an
// error. An empty batch returns an empty record set without a request.
func (c *Client) Fetch(ctx context.Context, ids types.IdentifierBatch) (types.RawRecordSet, error) {
	if len(ids) == 0 {
		return types.RawRecordSet{Requested: types.IdentifierBatch{}}, nil
	}

	params := c.baseParams("xml")
	params.Set("id", ids.Join())

	body, err := c.get(ctx, "fetch", c.Config.FetchURL, params)
	if err != nil {
		return types.RawRecordSet{}, err
	}

	if err := checkRoot(body); err != nil {
		return types.RawRecordSet{}, malformed("fetch", err)
	}

	requested := make(types.IdentifierBatch, len(ids))
	copy(requested, ids)
	return types.RawRecordSet{Body: body, Requested: requested}, nil
}

// checkRoot verifies that body is an XML document rooted at PubmedArticleSet.
// Only the prolog and root start tag are read; record-level damage is left
// to the normalizer.
func checkRoot(body []byte) error {
	dec := newDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("empty document")
		}
		if err != nil {
			return fmt.Errorf("reading XML prolog: %w", err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			if se.Name.Local != articleSetElement {
				return fmt.Errorf("unexpected root element <%s>", se.Name.Local)
			}
			return nil
		}
	}
}

// newDecoder returns a decoder that accepts HTML named entities, which
// appear in abstracts exported from publisher markup.
func newDecoder(r io.Reader) *xml.Decoder {
	dec := xml.NewDecoder(r)
	dec.Entity = xml.HTMLEntity
	return dec
}
