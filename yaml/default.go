package yaml

// defaultFlow publishes the branin dataset and a gaussian process regression algorithm.
const defaultFlow = `
version: "1.0"
dataset:
  token:
    name: DAT
    symbol: DAT
  metadata:
    main:
      type: dataset
      name: branin
      author: Trent
      license: CC0
      date_created: "2019-12-28T10:55:11Z"
      files:
        - url: https://raw.githubusercontent.com/trentmc/branin/main/branin.arff
          index: 0
          content_type: text/text
  service:
    type: compute
    name: DATA_dataAssetAccessServiceAgreement
    timeout: 86400
    date_published: "2019-12-28T10:55:11Z"
    cost: 1.0
algorithm:
  token:
    name: ALG
    symbol: ALG
  metadata:
    main:
      type: algorithm
      name: gpr
      author: Trent
      license: CC0
      date_created: "2020-01-28T10:55:11Z"
      algorithm:
        language: python
        format: docker-image
        version: "0.1"
        container:
          entrypoint: python $ALGO
          image: oceanprotocol/algo_dockers
          tag: python-branin
      files:
        - url: https://raw.githubusercontent.com/trentmc/branin/main/gpr.py
          index: 0
          content_type: text/text
  service:
    type: access
    name: ALG_dataAssetAccessServiceAgreement
    timeout: 86400
    date_published: "2020-01-28T10:55:11Z"
    cost: 1.0
`

func DefaultFlow() (*FlowDefinition, error) {
	return ParseFlow([]byte(defaultFlow))
}
