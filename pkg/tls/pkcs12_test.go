// Copyright 2023 The emqx-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tls

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadServerMaterialMissingKeystore(t *testing.T) {
	_, err := LoadServerMaterial("/nonexistent/keystore.p12", "changeit", "/nonexistent/truststore.p12", "changeit")
	assert.Error(t, err)
}

func TestLoadTrustPoolMissingFile(t *testing.T) {
	_, err := loadTrustPool("/nonexistent/truststore.p12", "changeit")
	assert.Error(t, err)
}
